package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/skyspy/flightradar-go/cmd/realtime"
	"github.com/skyspy/flightradar-go/internal/conf"
)

// RootCommand creates and returns the root command
func RootCommand(settings *conf.Settings) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "flightradar",
		Short: "Flightradar-Go CLI",
	}

	// Set up the global flags for the root command.
	if err := setupFlags(rootCmd, settings); err != nil {
		cobra.CheckErr(err)
	}

	rootCmd.AddCommand(realtime.Command(settings))

	return rootCmd
}

// setupFlags defines flags that are global to the command line interface
func setupFlags(rootCmd *cobra.Command, settings *conf.Settings) error {
	rootCmd.PersistentFlags().BoolVarP(&settings.Debug, "debug", "d", viper.GetBool("debug"), "Enable debug output")
	rootCmd.PersistentFlags().StringVar(&settings.Radar.Type, "radartype", viper.GetString("radar.type"), "Radar feed protocol: mm2, vrs or dmp1090")
	rootCmd.PersistentFlags().StringVar(&settings.Radar.URL, "radarurl", viper.GetString("radar.url"), "Base URL of the radar server")
	rootCmd.PersistentFlags().BoolVar(&settings.Tracker.MilitaryOnly, "militaryonly", viper.GetBool("tracker.militaryonly"), "Track only military transponder addresses")

	if err := viper.BindPFlags(rootCmd.PersistentFlags()); err != nil {
		return fmt.Errorf("error binding flags: %v", err)
	}

	return nil
}
