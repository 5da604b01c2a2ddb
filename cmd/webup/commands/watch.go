// Copyright (C) 2026 Toitware ApS. All rights reserved.
// Use of this source code is governed by an MIT-style license that can be
// found in the LICENSE file.

package commands

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/toitlang/webup/cmd/webup/directory"
	"github.com/toitlang/webup/cmd/webup/logging"
	"github.com/toitlang/webup/cmd/webup/upload"
)

const defaultDebounce = 300 * time.Millisecond

func WatchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Upload the web interface and re-upload files when they change",
		Long: "Upload the web interface once and then watch the web directory. Whenever\n" +
			"a file listed in the manifest is written, it is uploaded again.",
	}

	serialCmd := &cobra.Command{
		Use:          "serial [port] [web_directory]",
		Short:        "Watch and upload over a serial port",
		Args:         cobra.MaximumNArgs(2),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := directory.GetUserConfig()
			if err != nil {
				return err
			}
			port, rest, err := argOrConfig(args, cfg, PortCfgKey, "serial port")
			if err != nil {
				return err
			}
			target, err := serialTarget(cmd.Flags(), cfg, port)
			if err != nil {
				return err
			}
			return runWatch(cmd, cfg, target, rest)
		},
	}
	addSerialFlags(serialCmd.Flags())
	addTransferFlags(serialCmd.Flags(), upload.DefaultReadTimeout, 0)

	tcpCmd := &cobra.Command{
		Use:          "tcp [ip_address] [web_directory]",
		Short:        "Watch and upload over the network",
		Args:         cobra.MaximumNArgs(2),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := directory.GetUserConfig()
			if err != nil {
				return err
			}
			host, rest, err := argOrConfig(args, cfg, HostCfgKey, "address")
			if err != nil {
				return err
			}
			target, err := tcpTarget(cmd.Flags(), host)
			if err != nil {
				return err
			}
			return runWatch(cmd, cfg, target, rest)
		},
	}
	addTCPFlags(tcpCmd.Flags())
	addTransferFlags(tcpCmd.Flags(), upload.DefaultTCPReadTimeout, upload.DefaultMaxFileSize)

	for _, c := range []*cobra.Command{serialCmd, tcpCmd} {
		c.Flags().Duration("debounce", defaultDebounce, "how long a file must be quiet before it's uploaded")
	}

	cmd.AddCommand(serialCmd, tcpCmd)
	return cmd
}

func runWatch(cmd *cobra.Command, cfg *viper.Viper, target upload.Target, args []string) error {
	manifest, err := loadManifest(cmd.Flags(), cfg)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	opts, err := runOptions(cmd.Flags(), out)
	if err != nil {
		return err
	}
	debounce, err := cmd.Flags().GetDuration("debounce")
	if err != nil {
		return err
	}

	dir := webDirectory(args)
	if stat, err := os.Stat(dir); err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("no such directory: '%s'", dir)
		}
		return fmt.Errorf("can't stat directory '%s', reason: %w", dir, err)
	} else if !stat.IsDir() {
		return fmt.Errorf("can't watch file: '%s'", dir)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	runner := upload.NewRunner(target, manifest, dir, opts)
	if _, err := runner.Run(ctx); err != nil {
		return err
	}

	watcher, err := newWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	root, err := filepath.EvalSymlinks(dir)
	if err != nil {
		return err
	}
	if err := watcher.Watch(watchDirs(root, manifest)...); err != nil {
		return err
	}

	fmt.Fprintf(out, "\nWatching %s/ for changes. Press Ctrl-C to stop.\n", dir)
	onWebChanges(ctx, watcher, out, root, manifest, debounce, func(ctx context.Context, entries []upload.Entry) {
		fmt.Fprintln(out)
		if _, err := runner.Upload(ctx, entries); err != nil {
			fmt.Fprintln(out, "Error:", err)
		}
	})
	return nil
}

type watcher struct {
	sync.Mutex
	watcher *fsnotify.Watcher

	paths map[string]struct{}
}

func newWatcher() (*watcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	return &watcher{
		watcher: w,
		paths:   map[string]struct{}{},
	}, nil
}

func (w *watcher) Close() error {
	return w.watcher.Close()
}

func (w *watcher) Events() chan fsnotify.Event {
	return w.watcher.Events
}

func (w *watcher) Errors() chan error {
	return w.watcher.Errors
}

// Watch replaces the watched directories with paths.
func (w *watcher) Watch(paths ...string) error {
	w.Lock()
	defer w.Unlock()

	candidates := map[string]struct{}{}
	for _, p := range paths {
		if _, ok := w.paths[p]; !ok {
			if err := w.watcher.Add(p); err != nil {
				return err
			}
			w.paths[p] = struct{}{}
		}
		candidates[p] = struct{}{}
	}

	for p := range w.paths {
		if _, ok := candidates[p]; !ok {
			w.watcher.Remove(p)
			delete(w.paths, p)
		}
	}
	return nil
}

// watchDirs returns the existing directories that hold manifest entries.
// fsnotify doesn't recurse, so nested entries need their own watch.
func watchDirs(root string, manifest upload.Manifest) []string {
	seen := map[string]struct{}{}
	var res []string
	for _, e := range manifest.Files {
		dir := filepath.Dir(filepath.Join(root, filepath.FromSlash(e.LocalName)))
		if _, ok := seen[dir]; ok {
			continue
		}
		seen[dir] = struct{}{}
		if stat, err := os.Stat(dir); err == nil && stat.IsDir() {
			res = append(res, dir)
		}
	}
	return res
}

func changedEntry(root string, manifest upload.Manifest, name string) (upload.Entry, bool) {
	rel, err := filepath.Rel(root, name)
	if err != nil {
		return upload.Entry{}, false
	}
	return manifest.Lookup(rel)
}

// onWebChanges collects written manifest entries and passes them to fn once
// no further events arrived for the debounce duration. It returns when ctx
// is done or the watcher is closed.
func onWebChanges(
	ctx context.Context,
	watcher *watcher,
	out io.Writer,
	root string,
	manifest upload.Manifest,
	debounce time.Duration,
	fn func(ctx context.Context, entries []upload.Entry)) {
	log := logging.FromContext(ctx)
	pending := map[string]struct{}{}
	var changed []upload.Entry

	ticker := time.NewTicker(debounce)
	defer ticker.Stop()
	for {
		select {
		case event, ok := <-watcher.Events():
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			entry, ok := changedEntry(root, manifest, event.Name)
			if !ok {
				log.WithField("file", event.Name).Debug("ignoring change")
				continue
			}
			if _, ok := pending[entry.RemotePath]; !ok {
				fmt.Fprintf(out, "File modified '%s'\n", event.Name)
				pending[entry.RemotePath] = struct{}{}
				changed = append(changed, entry)
			}
			ticker.Reset(debounce)
		case <-ticker.C:
			if len(changed) == 0 {
				continue
			}
			entries := changed
			changed = nil
			pending = map[string]struct{}{}
			fn(ctx, entries)
		case err, ok := <-watcher.Errors():
			if !ok {
				return
			}
			fmt.Fprintln(out, "Watch error:", err)
		case <-ctx.Done():
			return
		}
	}
}
