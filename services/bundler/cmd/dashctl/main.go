package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"

	"github.com/spf13/cobra"

	"dashmaster/pkg/db"
	gos3 "dashmaster/pkg/s3"
	"dashmaster/services/bundler"
	"dashmaster/services/registry"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "dashctl",
		Short:         "Operator utility for dashmaster bundles and the device registry",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.AddCommand(newBundlesCommand())
	cmd.AddCommand(newSeedCommand())
	return cmd
}

func newBundlesCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "bundles",
		Short: "Export and verify signed config-history bundles",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	cmd.AddCommand(newBundlesExportCommand())
	cmd.AddCommand(newBundlesVerifyCommand())
	return cmd
}

func newBundlesExportCommand() *cobra.Command {
	var (
		device    string
		stateDir  string
		outputDir string
		bucket    string
		keyPrefix string
	)

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Bundle a device's live config and snapshot history",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			signer, err := bundler.NewSignerFromEnv()
			if err != nil {
				return err
			}
			if _, err := bundler.Build(ctx, bundler.BuildRequest{
				Device:    device,
				StateDir:  stateDir,
				OutputDir: outputDir,
				Signer:    signer,
				Stdout:    os.Stdout,
			}); err != nil {
				return err
			}

			if bucket == "" {
				return nil
			}
			s3Client, err := gos3.NewClientFromEnv()
			if err != nil {
				return fmt.Errorf("s3 client: %w", err)
			}
			if keyPrefix == "" {
				keyPrefix = path.Join("bundles", device)
			}
			url, err := bundler.Publish(ctx, bundler.PublishRequest{
				Dir:       outputDir,
				Bucket:    bucket,
				KeyPrefix: keyPrefix,
				S3:        s3Client,
				Stdout:    os.Stdout,
			})
			if err != nil {
				return err
			}
			fmt.Fprintf(os.Stdout, "download: %s\n", url)
			return nil
		},
	}

	cmd.Flags().StringVar(&device, "device", "", "Device hostname to export")
	cmd.Flags().StringVar(&stateDir, "state-dir", "./state", "Snapshot store root")
	cmd.Flags().StringVar(&outputDir, "output", "", "Destination bundle directory")
	cmd.Flags().StringVar(&bucket, "bucket", "", "Optional S3 bucket to publish the bundle to")
	cmd.Flags().StringVar(&keyPrefix, "key-prefix", "", "S3 key prefix (defaults to bundles/<device>)")
	_ = cmd.MarkFlagRequired("device")
	_ = cmd.MarkFlagRequired("output")
	return cmd
}

func newBundlesVerifyCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "verify <bundle-dir>",
		Short: "Verify a bundle's signature and digests",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			// Without configured keys the manifest's embedded key is
			// trusted; with them it must match.
			signer, err := bundler.NewSignerFromEnv()
			if err != nil {
				signer = nil
			}
			manifest, err := bundler.Verify(ctx, args[0], signer)
			if err != nil {
				return err
			}
			fmt.Fprintf(os.Stdout, "ok: device %s, %d files, signed %s\n",
				manifest.Device, len(manifest.Files), manifest.CreatedAt.Format("2006-01-02 15:04:05 MST"))
			return nil
		},
	}
	return cmd
}

func newSeedCommand() *cobra.Command {
	var (
		file string
		dsn  string
	)

	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Load bench devices from a registry seed file into Postgres",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			if dsn == "" {
				dsn = os.Getenv("DB_DSN")
			}
			if dsn == "" {
				return errors.New("--dsn or DB_DSN is required")
			}

			seeds, err := registry.LoadSeedFile(file)
			if err != nil {
				return err
			}

			pool, err := db.Open(ctx, dsn)
			if err != nil {
				return fmt.Errorf("open database: %w", err)
			}
			defer pool.Close()
			if err := db.Migrate(ctx, pool); err != nil {
				return fmt.Errorf("migrate database: %w", err)
			}

			inserted, err := registry.New(pool).Seed(ctx, seeds)
			if err != nil {
				return err
			}
			fmt.Fprintf(os.Stdout, "seeded %d of %d devices\n", inserted, len(seeds))
			return nil
		},
	}

	cmd.Flags().StringVar(&file, "file", "registry.json", "Registry seed file")
	cmd.Flags().StringVar(&dsn, "dsn", "", "Postgres DSN (defaults to DB_DSN)")
	return cmd
}
