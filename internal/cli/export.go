package cli

import (
	"encoding/json"
	"errors"
	"io"
	"os"

	"liveboard/internal/app"

	"github.com/spf13/cobra"
)

// NewExportCmd writes a teacher's quiz results as JSON. Results live in the
// shared store, so Redis must be configured.
func NewExportCmd() *cobra.Command {
	var teacher, out string
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export the results of a teacher's quiz session as JSON",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if teacher == "" {
				return errors.New("--teacher is required")
			}
			client, err := openRedis(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			if client == nil {
				return errors.New("export reads the shared store: configure redis.addr")
			}
			defer client.Close()

			// results are graded from the session document; no quiz source needed
			t := app.NewQuizTeacher(newDocStore(cfg, client, log), nil, teacher, app.WithLogger(log))
			results, err := t.Results(cmd.Context())
			if err != nil {
				return err
			}

			var w io.Writer = cmd.OutOrStdout()
			if out != "" && out != "-" {
				f, err := os.Create(out)
				if err != nil {
					return err
				}
				defer f.Close()
				w = f
			}
			enc := json.NewEncoder(w)
			enc.SetIndent("", "  ")
			return enc.Encode(results)
		},
	}
	cmd.Flags().StringVar(&teacher, "teacher", "", "teacher id owning the quiz session")
	cmd.Flags().StringVarP(&out, "out", "o", "-", "output file, - for stdout")
	return cmd
}
