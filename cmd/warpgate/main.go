/*
Copyright 2026 Warpgate Authors.

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
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/gravitational/kingpin"
	"github.com/sirupsen/logrus"

	"github.com/warpgate-bastion/warpgate/lib/config"
)

func main() {
	app := kingpin.New("warpgate", "Multi-protocol bastion host: SSH, MySQL, Postgres, and HTTPS through one authenticated front door.")
	debug := app.Flag("debug", "Enable verbose (debug-level) logging.").Bool()

	startCmd := app.Command("start", "Start the bastion, serving every listener enabled in the config file.").Default()
	configPath := startCmd.Flag("config", "Path to the YAML configuration file.").Default("/etc/warpgate/warpgate.yaml").String()

	command := kingpin.MustParse(app.Parse(os.Args[1:]))

	if *debug {
		logrus.SetLevel(logrus.DebugLevel)
	}
	logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	switch command {
	case startCmd.FullCommand():
		if err := runStart(*configPath); err != nil {
			log.WithError(err).Error("warpgate exited with an error")
			os.Exit(1)
		}
	}
}

// runStart loads configuration, wires every component, and blocks until an
// interrupt or terminate signal requests a clean shutdown.
func runStart(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.WithField("signal", sig).Info("shutting down")
		cancel()
	}()

	p, err := start(ctx, cfg)
	if err != nil {
		return err
	}

	log.WithField("data_dir", cfg.DataDir).Info("warpgate started")
	return p.run(ctx)
}
