package main

import (
	"github.com/spf13/cobra"

	"github.com/tigerroll/chunkflow/internal/app"
	appJob "github.com/tigerroll/chunkflow/internal/job"
)

func rootCommand(opts app.Options) *cobra.Command {
	command := &cobra.Command{
		Use:           "chunkflow",
		Short:         "Chunk-oriented batch jobs for customer records",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	command.AddCommand(
		runCommand(opts),
		consumeCommand(opts),
		serveCommand(opts),
		migrateCommand(opts),
	)
	return command
}

func runCommand(opts app.Options) *cobra.Command {
	var (
		inputFile  string
		outputFile string
		chunkSize  int
		extra      map[string]string
	)
	command := &cobra.Command{
		Use:   "run <jobName>",
		Short: "Run a job to completion. Supported: " + appJob.CsvToKafkaJobName + ", " + appJob.PartitionedImportJobName + ", " + appJob.CsvToParquetJobName,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			params := appJob.NewParameters(inputFile, outputFile, chunkSize, extra)
			_, err := app.RunJob(cmd.Context(), opts, args[0], params)
			return err
		},
	}
	command.Flags().StringVar(&inputFile, "input", "", "Input CSV file (defaults to batch.input_file)")
	command.Flags().StringVar(&outputFile, "output", "", "Output location for file sinks")
	command.Flags().IntVar(&chunkSize, "chunk-size", 0, "Records per chunk (defaults to the configured size)")
	command.Flags().StringToStringVar(&extra, "param", nil, "Additional job parameters as key=value")
	return command
}

func consumeCommand(opts app.Options) *cobra.Command {
	return &cobra.Command{
		Use:   "consume",
		Short: "Consume customer records from Kafka into the database",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return app.Consume(cmd.Context(), opts)
		},
	}
}

func serveCommand(opts app.Options) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the job HTTP API, consuming as well when consumer.enabled is set",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return app.Serve(cmd.Context(), opts)
		},
	}
}

func migrateCommand(opts app.Options) *cobra.Command {
	return &cobra.Command{
		Use:       "migrate <up|down>",
		Short:     "Apply or revert the database schema",
		Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
		ValidArgs: []string{string(app.MigrateUp), string(app.MigrateDown)},
		RunE: func(cmd *cobra.Command, args []string) error {
			return app.Migrate(cmd.Context(), opts, app.MigrateDirection(args[0]))
		},
	}
}
