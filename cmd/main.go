/*
Copyright 2025 Bunlink Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package main

import (
	"fmt"
	"log"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/bunlink/bunlink"
	"github.com/bunlink/bunlink/config"
	"github.com/bunlink/bunlink/database"
	"github.com/bunlink/bunlink/internal/notification"
)

// Bunlink represents the CLI application, encapsulating the root Cobra command.
type Bunlink struct {
	cmd *cobra.Command
}

// bunlinkInstance holds the runtime Bunlink instance and its configuration,
// shared by all subcommands.
type bunlinkInstance struct {
	bunlink *bunlink.Bunlink
	cnf     *config.Configuration
}

// recoverPanic handles any panics during program execution and logs the error.
func recoverPanic() {
	if rec := recover(); rec != nil {
		logrus.Error(rec)
		os.Exit(1)
	}
}

// preRun sets up the configuration and initializes the Bunlink instance before
// running any command.
func preRun(app *bunlinkInstance) func(cmd *cobra.Command, args []string) error {
	return func(cmd *cobra.Command, args []string) error {
		err := config.InitConfig("bunlink.json")
		if err != nil {
			log.Fatal("error loading config", err)
		}

		cnf, err := config.Fetch()
		if err != nil {
			return err
		}

		newBunlink, err := setupBunlink(cnf)
		if err != nil {
			notification.NotifyError(err)
			log.Fatal(err)
		}

		app.bunlink = newBunlink
		app.cnf = cnf

		return nil
	}
}

// setupBunlink connects the data source and builds the Bunlink instance on top
// of it.
func setupBunlink(cfg *config.Configuration) (*bunlink.Bunlink, error) {
	db, err := database.NewDataSource(cfg)
	if err != nil {
		return nil, fmt.Errorf("error getting datasource: %v", err)
	}

	newBunlink, err := bunlink.NewBunlink(db)
	if err != nil {
		return nil, fmt.Errorf("error creating bunlink: %v", err)
	}
	return newBunlink, nil
}

// NewCLI creates the command-line interface for the Bunlink application.
func NewCLI() *Bunlink {
	var configFile string
	b := &bunlinkInstance{}

	var rootCmd = &cobra.Command{
		Use:   "bunlink",
		Short: "Cross-marketplace order and inventory reconciliation",
		Run:   func(cmd *cobra.Command, args []string) {},
	}

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "./bunlink.json", "Configuration file for bunlink")

	rootCmd.PersistentPreRunE = preRun(b)

	rootCmd.AddCommand(serverCommands(b))
	rootCmd.AddCommand(workerCommands(b))

	return &Bunlink{cmd: rootCmd}
}

// executeCLI runs the root command, handling any errors that occur during
// execution.
func (w Bunlink) executeCLI() {
	if err := w.cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func main() {
	defer recoverPanic()

	cli := NewCLI()
	cli.executeCLI()
}
