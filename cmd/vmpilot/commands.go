package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/colorfulnotion/vmpilot/bundle"
	"github.com/colorfulnotion/vmpilot/common"
	"github.com/colorfulnotion/vmpilot/crypto"
	"github.com/colorfulnotion/vmpilot/decoder"
	"github.com/colorfulnotion/vmpilot/encoder"
	log "github.com/colorfulnotion/vmpilot/log"
	"github.com/colorfulnotion/vmpilot/opcode"
	"github.com/colorfulnotion/vmpilot/optable"
	"github.com/colorfulnotion/vmpilot/segmentator"
	"github.com/colorfulnotion/vmpilot/vmerrors"
	"github.com/davecgh/go-spew/spew"
	"github.com/spf13/cobra"
	"github.com/xlab/treeprint"
)

func newOptableCmd(a *app) *cobra.Command {
	var (
		secret     bool
		diffKey    string
		diffDigest string
	)
	cmd := &cobra.Command{
		Use:   "optable",
		Short: "Dump the key-derived opcode tables as JSON",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			key, err := a.resolveKey()
			if err != nil {
				return err
			}
			d, err := a.keyedDigest()
			if err != nil {
				return err
			}
			gen, err := optable.NewGenerator(opcode.DefaultSpace(), key, optable.WithDigest(d))
			if err != nil {
				return err
			}
			dump := optable.NewDump(gen, secret)
			w := cmd.OutOrStdout()

			if diffKey == "" && diffDigest == "" {
				out, err := dump.JSON()
				if err != nil {
					return err
				}
				fmt.Fprintln(w, string(out))
				return nil
			}

			// compare against the same space under another key and/or digest
			if diffKey == "" {
				diffKey = key
			}
			other := d
			if diffDigest != "" {
				if other, err = crypto.DigestByName(diffDigest); err != nil {
					return err
				}
			}
			otherGen, err := optable.NewGenerator(opcode.DefaultSpace(), diffKey, optable.WithDigest(other))
			if err != nil {
				return err
			}
			out, changed, err := optable.Diff(dump, optable.NewDump(otherGen, secret), !a.noColor)
			if err != nil {
				return err
			}
			if !changed {
				fmt.Fprintln(w, a.color("tables match", common.ColorGreen))
				return nil
			}
			fmt.Fprintln(w, out)
			return nil
		},
	}
	cmd.Flags().BoolVar(&secret, "secret", false, "Include the OID to OI conversion table")
	cmd.Flags().StringVar(&diffKey, "diff-key", "", "Diff against the tables derived from this key")
	cmd.Flags().StringVar(&diffDigest, "diff-digest", "", "Diff against the tables ordered by this digest")
	return cmd
}

func newAssembleCmd(a *app) *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "assemble <source>",
		Short: "Assemble a text program into an encrypted bundle",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			key, err := a.resolveKey()
			if err != nil {
				return err
			}
			d, err := a.keyedDigest()
			if err != nil {
				return err
			}
			src, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer src.Close()

			insts, err := encoder.Parse(src, opcode.DefaultSpace())
			if err != nil {
				return fmt.Errorf("%s: %w", args[0], err)
			}
			enc, err := encoder.New(key, encoder.WithDigest(d))
			if err != nil {
				return err
			}
			stream, err := enc.Encode(insts)
			if err != nil {
				return err
			}
			b, err := bundle.New(d.Name(), stream, nil)
			if err != nil {
				return err
			}
			if output == "" {
				output = trimExt(args[0]) + ".vmb"
			}
			if err := bundle.WriteFile(output, b); err != nil {
				return err
			}
			log.Info(log.CLIMonitoring, "assembled", "source", args[0], "bundle", output, "records", b.Count)
			fmt.Fprintf(cmd.OutOrStdout(), "%s %d records -> %s\n", a.color("assembled", common.ColorGreen), b.Count, output)
			return nil
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "Bundle path (default <source>.vmb)")
	return cmd
}

func newDecodeCmd(a *app) *cobra.Command {
	var (
		workers int
		dump    bool
	)
	cmd := &cobra.Command{
		Use:   "decode <bundle>",
		Short: "Decode a bundle and print the restored program",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			key, err := a.resolveKey()
			if err != nil {
				return err
			}
			b, err := bundle.ReadFile(args[0])
			if err != nil {
				return err
			}
			// the bundle records the digest its table was built with
			d, err := crypto.DigestByName(b.Digest)
			if err != nil {
				return err
			}
			if workers <= 0 {
				workers = a.cfg.Workers
			}
			dec, err := decoder.New(key, decoder.WithDigest(d), decoder.WithWorkers(workers))
			if err != nil {
				return err
			}
			out, err := dec.Decode(b.Records)
			if err != nil {
				if vmerrors.IsSecurityRelevant(err) {
					kv := []interface{}{"detail", err.Error()}
					var re *decoder.RecordError
					if errors.As(err, &re) {
						kv = append(kv, "offset", re.Offset)
					}
					log.Security("decode", vmerrors.GetErrorCode(err), vmerrors.GetErrorName(err), kv...)
				}
				return err
			}
			records, err := decoder.Records(out)
			if err != nil {
				return err
			}

			w := cmd.OutOrStdout()
			if b.Region != nil {
				fmt.Fprintf(w, "%s %s [%#x, %#x)\n", a.color("region", common.ColorCyan), b.Region.Name, b.Region.Begin, b.Region.End)
			}
			fmt.Fprint(w, decoder.Disassemble(records, dec.Space()))
			if dump {
				cfg := spew.ConfigState{Indent: " ", DisableMethods: true}
				cfg.Fdump(w, records)
			}
			fmt.Fprintf(w, "%s %d records\n", a.color("decoded", common.ColorGreen), len(records))
			return nil
		},
	}
	cmd.Flags().IntVar(&workers, "workers", 0, "Decode partitions (default from config)")
	cmd.Flags().BoolVar(&dump, "spew", false, "Dump decoded records with go-spew")
	return cmd
}

func newSegmentCmd(a *app) *cobra.Command {
	var disasm bool
	cmd := &cobra.Command{
		Use:   "segment <binary>",
		Short: "List the marked regions of an x86 binary",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			bin, err := segmentator.Open(args[0])
			if err != nil {
				return err
			}
			markers := a.cfg.Segmentator
			regions, err := segmentator.FindRegions(bin, markers.BeginSymbol, markers.EndSymbol)
			if err != nil {
				return err
			}
			bits, _ := bin.Bits()

			tree := treeprint.New()
			tree.SetValue(fmt.Sprintf("%s (%s, %s, %d regions)", filepath.Base(args[0]), bin.Type, bin.Machine, len(regions)))
			for _, r := range regions {
				node := tree.AddBranch(a.color(r.Name, common.ColorYellow))
				node.AddNode(fmt.Sprintf("[%#x, %#x) %d bytes", r.Begin, r.End, len(r.Code)))
				if disasm {
					node.AddNode(segmentator.Disassemble(r.Code, r.Begin, bits))
				}
			}
			fmt.Fprint(cmd.OutOrStdout(), tree.String())
			return nil
		},
	}
	cmd.Flags().BoolVar(&disasm, "disasm", false, "Disassemble each region")
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print build information",
		Args:  cobra.NoArgs,
		// no configuration needed
		PersistentPreRunE: func(*cobra.Command, []string) error { return nil },
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "vmpilot %s commit %s built %s\n", common.Version, common.GetCommitHash(), common.BuildTime)
		},
	}
}

func trimExt(path string) string {
	return path[:len(path)-len(filepath.Ext(path))]
}
