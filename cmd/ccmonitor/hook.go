package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/adityakinifr/ccmonitor/internal/config"
	"github.com/adityakinifr/ccmonitor/internal/ingest"
	"github.com/adityakinifr/ccmonitor/internal/store"
)

// newHookCommand ingests one push-style hook payload from stdin. The
// assistant's hook configuration pipes its JSON payload straight in:
//
//	ccmonitor hook < payload.json
func newHookCommand(cfg config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "hook",
		Short: "Ingest one hook event payload from stdin.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			payload, err := io.ReadAll(os.Stdin)
			if err != nil {
				return fmt.Errorf("read hook payload: %w", err)
			}

			var hook ingest.HookEvent
			if err := json.Unmarshal(payload, &hook); err != nil {
				return fmt.Errorf("parse hook payload: %w", err)
			}

			st, err := store.OpenStore(cfg.DBPath)
			if err != nil {
				return err
			}
			defer st.Close()

			pipeline := ingest.NewPipeline(st, nil)
			return pipeline.ProcessHook(cmd.Context(), hook)
		},
	}
}
