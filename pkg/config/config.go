package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/conductorone/baton-presence/pkg/cli"
	"github.com/conductorone/baton-presence/pkg/client"
)

const envPrefix = "baton_presence"

// DefineConfiguration builds the root command, which tracks presence until
// interrupted, and its fetch subcommand. Values come from flags, BATON_PRESENCE_*
// environment variables and an optional yaml file.
func DefineConfiguration(ctx context.Context, name string, factory cli.ClientFactory) (*viper.Viper, *cobra.Command, error) {
	if factory == nil {
		factory = client.New
	}

	v := viper.New()
	v.SetConfigType("yaml")

	path, cfgName, err := CleanOrGetConfigPath(os.Getenv("BATON_PRESENCE_CONFIG_PATH"))
	if err != nil {
		return nil, nil, err
	}

	v.SetConfigName(cfgName)
	v.AddConfigPath(path)
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, nil, err
		}
	}
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	mainCMD := &cobra.Command{
		Use:           name,
		Short:         "Track presence changes for a set of users",
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(*cobra.Command, []string) error {
			return ValidateConfiguration(v)
		},
		RunE: cli.MakeTrackCommand(ctx, name, v, factory),
	}

	if err := addFlags(mainCMD.PersistentFlags(), Fields); err != nil {
		return nil, nil, err
	}

	if err := v.BindPFlags(mainCMD.PersistentFlags()); err != nil {
		return nil, nil, err
	}
	if err := v.BindPFlags(mainCMD.Flags()); err != nil {
		return nil, nil, err
	}

	fetchCmd := &cobra.Command{
		Use:   "fetch",
		Short: "Print the current presence of the configured users",
		RunE:  cli.MakeFetchCommand(ctx, name, v, factory),
	}
	mainCMD.AddCommand(fetchCmd)

	return v, mainCMD, nil
}

func addFlags(flags *pflag.FlagSet, fields []Field) error {
	for _, f := range fields {
		switch value := f.Default.(type) {
		case bool:
			flags.Bool(f.Name, value, f.usage())
		case int:
			flags.Int(f.Name, value, f.usage())
		case string:
			flags.String(f.Name, value, f.usage())
		case time.Duration:
			flags.Duration(f.Name, value, f.usage())
		case []string:
			flags.StringSlice(f.Name, value, f.usage())
		default:
			return fmt.Errorf("field %s: default of type %T is not yet supported", f.Name, f.Default)
		}

		if f.Hidden {
			if err := flags.MarkHidden(f.Name); err != nil {
				return fmt.Errorf("cannot hide field %s: %w", f.Name, err)
			}
		}
	}
	return nil
}
