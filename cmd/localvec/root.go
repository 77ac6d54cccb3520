package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/hupe1980/localvec"
	"github.com/hupe1980/localvec/codec"
)

// app carries the state shared by all commands.
type app struct {
	cfgFile string
	jsonOut bool

	// Flag overrides of the config file.
	backend    string
	path       string
	collection string
	dimension  int

	cfg Config
}

func newRootCmd() *cobra.Command {
	a := &app{}

	root := &cobra.Command{
		Use:           "localvec",
		Short:         "Inspect and maintain a localvec database",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.loadConfig(cmd)
		},
	}

	f := root.PersistentFlags()
	f.StringVarP(&a.cfgFile, "config", "c", "", "YAML config file")
	f.StringVar(&a.backend, "backend", "", "storage backend: memory, badger or sqlite")
	f.StringVar(&a.path, "path", "", "badger directory or sqlite file")
	f.StringVar(&a.collection, "collection", "", "collection name")
	f.IntVar(&a.dimension, "dimension", 0, "vector dimension for new collections")
	f.BoolVar(&a.jsonOut, "json", false, "print JSON")

	root.AddCommand(
		a.statsCmd(),
		a.searchCmd(),
		a.exportCmd(),
		a.importCmd(),
		a.cleanupCmd(),
		a.migrateCmd(),
	)

	return root
}

func (a *app) loadConfig(cmd *cobra.Command) error {
	cfg, err := LoadConfig(a.cfgFile)
	if err != nil {
		return err
	}

	flags := cmd.Flags()

	if flags.Changed("backend") {
		cfg.Backend = a.backend
	}

	if flags.Changed("path") {
		cfg.Path = a.path
	}

	if flags.Changed("collection") {
		cfg.Collection = a.collection
	}

	if flags.Changed("dimension") {
		cfg.Dimension = a.dimension
	}

	a.cfg = cfg

	return nil
}

func (a *app) print(w io.Writer, v any, text func(io.Writer) error) error {
	if !a.jsonOut {
		return text(w)
	}

	data, err := codec.JSON{}.Marshal(v)
	if err != nil {
		return err
	}

	_, err = fmt.Fprintln(w, string(data))

	return err
}

// withDB opens the database for the duration of fn.
func (a *app) withDB(cmd *cobra.Command, fn func(db *localvec.DB) error) (err error) {
	db, closeFn, err := a.cfg.openDB(cmd.Context())
	if err != nil {
		return err
	}

	defer func() {
		if cerr := closeFn(); err == nil {
			err = cerr
		}
	}()

	return fn(db)
}
