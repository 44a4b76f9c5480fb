/*
 * Copyright (C) 2020-2026, pmkol
 *
 * This file is part of ldns-x.
 *
 * ldns-x is free software: you can redistribute it and/or modify
 * it under the terms of the GNU General Public License as published by
 * the Free Software Foundation, either version 3 of the License, or
 * (at your option) any later version.
 *
 * ldns-x is distributed in the hope that it will be useful,
 * but WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
 * GNU General Public License for more details.
 *
 * You should have received a copy of the GNU General Public License
 * along with this program.  If not, see <https://www.gnu.org/licenses/>.
 */

package coremain

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/kardianos/service"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/pmkol/ldns-x/mlog"
)

var (
	svc    service.Service
	svcCfg = &service.Config{
		Name:        "ldns",
		DisplayName: "ldns",
		Description: "A DNS forwarder with a caching resolver.",
	}
)

type serverService struct {
	f *serverFlags
	m *LDNS
}

func (ss *serverService) Start(s service.Service) error {
	mlog.L().Info("starting service", zap.String("platform", s.Platform()))
	m, err := NewServer(ss.f)
	if err != nil {
		return err
	}
	ss.m = m
	go func() {
		if err := m.Wait(); err != nil {
			mlog.L().Error("ldns exited", zap.Error(err))
			os.Exit(1)
		}
	}()
	return nil
}

func (ss *serverService) Stop(_ service.Service) error {
	if ss.m == nil {
		return nil
	}
	ss.m.Close(nil)
	return ss.m.Wait()
}

func initService(_ *cobra.Command, _ []string) error {
	s, err := service.New(&serverService{}, svcCfg)
	if err != nil {
		return fmt.Errorf("cannot init service, %w", err)
	}
	svc = s
	return nil
}

func newSvcInstallCmd() *cobra.Command {
	sf := new(serverFlags)
	c := &cobra.Command{
		Use:   "install [-d working_dir] [-c config_file]",
		Short: "Install ldns as a system service.",
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(sf.dir) == 0 {
				wd, err := os.Getwd()
				if err != nil {
					return fmt.Errorf("failed to get current working directory, %w", err)
				}
				sf.dir = wd
			}
			dir, err := filepath.Abs(sf.dir)
			if err != nil {
				return fmt.Errorf("failed to resolve working directory, %w", err)
			}

			args = []string{"start", "--as-service", "-d", dir}
			if len(sf.c) > 0 {
				cfg, err := filepath.Abs(sf.c)
				if err != nil {
					return fmt.Errorf("failed to resolve config path, %w", err)
				}
				args = append(args, "-c", cfg)
			}
			svcCfg.Arguments = args

			s, err := service.New(&serverService{}, svcCfg)
			if err != nil {
				return fmt.Errorf("failed to init service, %w", err)
			}
			return s.Install()
		},
		SilenceUsage: true,
	}
	c.Flags().StringVarP(&sf.dir, "dir", "d", "", "working dir")
	c.Flags().StringVarP(&sf.c, "config", "c", "", "config file")
	return c
}

func newSvcUninstallCmd() *cobra.Command {
	return &cobra.Command{
		Use:          "uninstall",
		Short:        "Uninstall ldns from system service.",
		RunE:         func(cmd *cobra.Command, args []string) error { return svc.Uninstall() },
		SilenceUsage: true,
	}
}

func newSvcStartCmd() *cobra.Command {
	return &cobra.Command{
		Use:          "start",
		Short:        "Start ldns system service.",
		RunE:         func(cmd *cobra.Command, args []string) error { return svc.Start() },
		SilenceUsage: true,
	}
}

func newSvcStopCmd() *cobra.Command {
	return &cobra.Command{
		Use:          "stop",
		Short:        "Stop ldns system service.",
		RunE:         func(cmd *cobra.Command, args []string) error { return svc.Stop() },
		SilenceUsage: true,
	}
}

func newSvcRestartCmd() *cobra.Command {
	return &cobra.Command{
		Use:          "restart",
		Short:        "Restart ldns system service.",
		RunE:         func(cmd *cobra.Command, args []string) error { return svc.Restart() },
		SilenceUsage: true,
	}
}

func newSvcStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Status of ldns system service.",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := svc.Status()
			if err != nil {
				if errors.Is(err, service.ErrNotInstalled) {
					fmt.Println("not installed")
					return nil
				}
				return err
			}
			var out string
			switch s {
			case service.StatusRunning:
				out = "running"
			case service.StatusStopped:
				out = "stopped"
			default:
				out = "unknown"
			}
			fmt.Println(out)
			return nil
		},
		SilenceUsage: true,
	}
}
