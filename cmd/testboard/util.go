package main

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/loykin/testboard"
)

// withApp runs fn against an App opened in single-run log mode. History sinks are
// not opened for one-shot commands.
func withApp(globalFlags *GlobalFlags, fn func(*testboard.App) error) error {
	cfg, err := testboard.LoadConfig(globalFlags.ConfigPath)
	if err != nil {
		return fmt.Errorf("error loading config: %w", err)
	}
	cfg.History.Sinks = nil
	app, err := testboard.Open(cfg, testboard.LogSingle)
	if err != nil {
		return err
	}
	defer func() { _ = app.Close() }()
	return fn(app)
}

func printJSON(w io.Writer, v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(b))
	return err
}
