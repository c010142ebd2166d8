// Command vitport ports pretrained vision-transformer checkpoints between
// framework conventions, verifies the result numerically, and inspects the
// emitted GGUF files.
package main

import (
	"fmt"
	"log/slog"
	"os"
	"slices"

	"github.com/spf13/cobra"

	"github.com/vitport/vitport/convert"
	"github.com/vitport/vitport/envconfig"
	"github.com/vitport/vitport/format"
	"github.com/vitport/vitport/fs/ggml"
	"github.com/vitport/vitport/verify"
)

func NewCLI() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "vitport",
		Short: "Vision-transformer checkpoint porter",
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			cmd.SilenceUsage = true

			level := slog.LevelInfo
			if envconfig.Debug() {
				level = slog.LevelDebug
			}
			slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
		},
	}

	cobra.EnableCommandSorting = false

	convertCmd := &cobra.Command{
		Use:   "convert DIR",
		Short: "Convert a checkpoint directory to a ported GGUF file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			output, _ := cmd.Flags().GetString("output")
			strict, _ := cmd.Flags().GetBool("strict")
			arch, _ := cmd.Flags().GetString("arch")

			f, err := os.Create(output)
			if err != nil {
				return err
			}
			defer f.Close()

			if err := convert.ConvertModel(args[0], f, strict, arch); err != nil {
				os.Remove(output)
				return err
			}

			info, err := f.Stat()
			if err != nil {
				return err
			}

			fmt.Printf("wrote %s (%s)\n", output, format.HumanBytes(info.Size()))
			return nil
		},
	}
	convertCmd.Flags().StringP("output", "o", "model.gguf", "Output file")
	convertCmd.Flags().Bool("strict", envconfig.Strict(), "Fail fast on tensor shape mismatches")
	convertCmd.Flags().String("arch", "", "Override the architecture in config.json (swin, trans2seg)")

	verifyCmd := &cobra.Command{
		Use:   "verify DIR",
		Short: "Check that a ported checkpoint reproduces the source outputs",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			seed, _ := cmd.Flags().GetInt64("seed")

			cfg, err := convert.LoadSwinConfig(args[0])
			if err != nil {
				return err
			}

			src, err := convert.ParseTensors(args[0])
			if err != nil {
				return err
			}

			if err := verify.Swin(cfg, src, seed); err != nil {
				return fmt.Errorf("verification failed: %w", err)
			}

			fmt.Println("outputs agree within tolerance")
			return nil
		},
	}
	verifyCmd.Flags().Int64("seed", 0, "Seed for the verification input")

	inspectCmd := &cobra.Command{
		Use:   "inspect FILE",
		Short: "Show the metadata and tensors of a GGUF file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()

			g, err := ggml.DecodeGGUF(f)
			if err != nil {
				return err
			}

			fmt.Printf("architecture: %s\n", g.KV.Architecture())
			for _, key := range sortedKeys(g.KV) {
				fmt.Printf("  %s = %v\n", key, g.KV[key])
			}

			var params, bytes uint64
			for _, t := range g.Tensors {
				fmt.Printf("%-64s %-8s %v\n", t.Name, kindName(t.Kind), t.Shape)
				params += t.Elements()
				bytes += t.Size()
			}

			fmt.Printf("%d tensors, %s parameters, %s\n", len(g.Tensors), format.HumanNumber(params), format.HumanBytes(int64(bytes)))
			return nil
		},
	}

	rootCmd.AddCommand(convertCmd, verifyCmd, inspectCmd)
	return rootCmd
}

func sortedKeys(kv ggml.KV) []string {
	keys := make([]string, 0, len(kv))
	for k := range kv {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

func kindName(kind uint32) string {
	switch kind {
	case ggml.TensorKindF32:
		return "F32"
	case ggml.TensorKindF16:
		return "F16"
	default:
		return fmt.Sprintf("kind%d", kind)
	}
}

func main() {
	if err := NewCLI().Execute(); err != nil {
		os.Exit(1)
	}
}
