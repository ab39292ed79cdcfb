package cmds

import (
	"fmt"
	"io"
	"os"

	"github.com/go-go-golems/lifeguard/pkg/conversation"
	"github.com/go-go-golems/lifeguard/pkg/inference/memory"
	"github.com/go-go-golems/lifeguard/pkg/steps/ai/settings"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func NewTokensCommand() *cobra.Command {
	var model string
	var threshold int

	cmd := &cobra.Command{
		Use:   "tokens [file]",
		Short: "Estimate the token count of a file the way history compression does",
		Long:  "Reads the file (or stdin when omitted or \"-\") and prints both token estimates and whether a history of that size would be compressed.",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			text, err := readInput(cmd.InOrStdin(), args)
			if err != nil {
				return err
			}

			s, err := settings.LoadFromViper(viper.GetViper())
			if err != nil {
				return err
			}
			cfg := s.Agent.Memory
			if cmd.Flags().Changed("threshold") {
				cfg.Threshold = threshold
			}
			if model == "" {
				model = s.Model()
			}

			msgs := []conversation.Message{conversation.NewTextMessage(conversation.RoleUser, text)}
			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "Characters: %d\n", len(text))
			fmt.Fprintf(w, "Estimate (chars): %d\n", memory.CharEstimator{}.EstimateMessages(msgs))

			tk, err := memory.NewTiktokenEstimator(model)
			if err != nil {
				// unknown models fall back to cl100k_base
				tk, err = memory.NewTiktokenEstimator("")
				if err != nil {
					return err
				}
				model = "cl100k_base"
			}
			fmt.Fprintf(w, "Estimate (tiktoken, %s): %d\n", model, tk.EstimateMessages(msgs))

			estimator, err := memory.NewEstimator(cfg.Estimator, model)
			if err != nil {
				return err
			}
			mgr := memory.NewManager(cfg, memory.WithEstimator(estimator))
			fmt.Fprintf(w, "Threshold (%s): %d\n", estimatorName(cfg.Estimator), cfg.Threshold)
			fmt.Fprintf(w, "Would compress: %t\n", mgr.ShouldCompress(msgs))
			return nil
		},
	}

	cmd.Flags().StringVarP(&model, "model", "m", "", "Model whose tokenizer is used (defaults to the configured model)")
	cmd.Flags().IntVar(&threshold, "threshold", memory.DefaultConfig().Threshold, "Compression threshold to compare against")
	return cmd
}

func readInput(stdin io.Reader, args []string) (string, error) {
	if len(args) == 0 || args[0] == "-" {
		b, err := io.ReadAll(stdin)
		if err != nil {
			return "", errors.Wrap(err, "could not read stdin")
		}
		return string(b), nil
	}
	b, err := os.ReadFile(args[0])
	if err != nil {
		return "", errors.Wrapf(err, "could not read %s", args[0])
	}
	return string(b), nil
}

func estimatorName(kind string) string {
	if kind == "" {
		return memory.EstimatorChars
	}
	return kind
}
