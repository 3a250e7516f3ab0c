package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"slices"
	"sort"
	"syscall"
	"unicode"

	"github.com/barusanov/Perl5-IDEA/internal/config"
	"github.com/barusanov/Perl5-IDEA/internal/plvalue"
	"github.com/barusanov/Perl5-IDEA/internal/session"
	"github.com/barusanov/Perl5-IDEA/internal/valueindex"
	"github.com/goccy/go-json"
	"github.com/maruel/natural"
	"github.com/posener/complete/v2/install"
	"github.com/rs/zerolog"
	"github.com/tidwall/gjson"
	"golang.org/x/term"
)

const (
	ERROR_STATUS_CODE = 1

	COMMAND_NAME   = "plvalues"
	CLI_SRC_NAME   = "/cli"
	INDEX_DIR_PERM = 0o700
)

func main() {
	//handle completions
	cmd.Complete(COMMAND_NAME)

	statusCode := _main(os.Args, os.Stdout, os.Stderr)
	if statusCode != 0 {
		os.Exit(statusCode)
	}
}

func _main(args []string, outW io.Writer, errW io.Writer) (statusCode int) {
	mainSubCommand := HELP_SUBCMD
	var mainSubCommandArgs []string

	if len(args) > 1 {
		mainSubCommand = args[1]
		mainSubCommandArgs = args[2:]
	}

	//if the command has the shape help <subcommand> ... we modify the arguments to ask the subcommand to print its help message.
	if mainSubCommand == HELP_SUBCMD && len(mainSubCommandArgs) > 0 && mainSubCommandArgs[0] != "" && unicode.IsLetter(rune(mainSubCommandArgs[0][0])) {
		mainSubCommand = mainSubCommandArgs[0]
		mainSubCommandArgs = []string{"-h"}
	}

	if slices.Contains(HELP_SUBCMD_EQUIVALENTS, mainSubCommand) {
		mainSubCommand = HELP_SUBCMD
	}

	//unknown command
	if !slices.Contains(SUBCOMMANDS, mainSubCommand) {
		fmt.Fprintf(errW, "unknown command '%s'\n", mainSubCommand)
		fmt.Fprint(errW, CMD_HELP)
		return ERROR_STATUS_CODE
	}

	switch mainSubCommand {
	case HELP_SUBCMD:
		fmt.Fprint(outW, CMD_HELP)
		return
	case INSTALL_COMPLETIONS_SUBCMD:
		err := install.Install(COMMAND_NAME)
		if err != nil {
			fmt.Fprintln(errW, err)
			return ERROR_STATUS_CODE
		}
		fmt.Fprintln(outW, "installed")
		return
	case UNINSTALL_COMPLETIONS_SUBCMD:
		err := install.Uninstall(COMMAND_NAME)
		if err != nil {
			fmt.Fprintln(errW, err)
			return ERROR_STATUS_CODE
		}
		fmt.Fprintln(outW, "uninstalled")
		return
	}

	//subcommands operating on the value index

	flags := flag.NewFlagSet(mainSubCommand, flag.ContinueOnError)
	flags.SetOutput(errW)

	var configPath, indexPath string
	flags.StringVar(&configPath, "config", "", "path of the configuration file (default: searched in the XDG config directories)")
	flags.StringVar(&indexPath, "index", "", "path of the value index, overrides the configuration")

	var prefix, selector string
	switch mainSubCommand {
	case KEYS_SUBCMD, DUMP_SUBCMD:
		flags.StringVar(&prefix, "prefix", "", "only consider the records whose key has this prefix")
	}
	if mainSubCommand == DUMP_SUBCMD {
		flags.StringVar(&selector, "select", "", "only print the part of each record matching this path (e.g. namespaces.0)")
	}

	if showHelp(flags, mainSubCommandArgs, outW) {
		return
	}

	if err := flags.Parse(mainSubCommandArgs); err != nil {
		return ERROR_STATUS_CODE
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintln(errW, err)
		return ERROR_STATUS_CODE
	}
	if indexPath != "" {
		cfg.IndexPath = indexPath
	}

	logger := newLogger(cfg, errW)

	store, err := openStore(cfg, logger)
	if err != nil {
		fmt.Fprintln(errW, err)
		return ERROR_STATUS_CODE
	}
	defer store.Close()

	sess := session.New(session.Config{
		Store:             store,
		Options:           cfg.ResolutionOptions(),
		SourcePatterns:    cfg.SourcePatterns,
		InvalidationDelay: cfg.InvalidationDelay(),
		Logger:            logger,
	})

	switch mainSubCommand {
	case CHECK_SUBCMD:
		err = check(sess, outW)
	case KEYS_SUBCMD:
		err = printKeys(store, prefix, outW)
	case DUMP_SUBCMD:
		err = dump(sess, prefix, selector, outW)
	case RESOLVE_SUBCMD:
		if flags.NArg() != 1 {
			fmt.Fprintln(errW, "expected a single record key")
			return ERROR_STATUS_CODE
		}
		err = resolve(sess, flags.Arg(0), outW)
	case EXPORT_SUBCMD:
		if flags.NArg() != 1 {
			fmt.Fprintln(errW, "missing snapshot path")
			return ERROR_STATUS_CODE
		}
		err = exportSnapshot(store, flags.Arg(0))
	case IMPORT_SUBCMD:
		if flags.NArg() != 1 {
			fmt.Fprintln(errW, "missing snapshot path")
			return ERROR_STATUS_CODE
		}
		err = importSnapshot(store, flags.Arg(0))
	case WATCH_SUBCMD:
		if flags.NArg() == 0 {
			fmt.Fprintln(errW, "missing directories to watch")
			return ERROR_STATUS_CODE
		}
		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		logger.Info().Strs("dirs", flags.Args()).Msg("watching")
		err = sess.Watch(ctx, flags.Args()...)
	}

	if err != nil {
		fmt.Fprintln(errW, err)
		return ERROR_STATUS_CODE
	}
	return 0
}

func newLogger(cfg config.Config, out io.Writer) zerolog.Logger {
	colorize := config.SHOULD_COLORIZE
	if f, ok := out.(*os.File); !ok || !term.IsTerminal(int(f.Fd())) {
		colorize = colorize && config.FORCE_COLOR
	}

	writer := zerolog.ConsoleWriter{
		Out:     out,
		NoColor: !colorize,
	}
	return zerolog.New(writer).Level(cfg.Level()).With().Timestamp().Str(plvalue.SOURCE_LOG_FIELD_NAME, CLI_SRC_NAME).Logger()
}

func openStore(cfg config.Config, logger zerolog.Logger) (*valueindex.Store, error) {
	if err := os.MkdirAll(filepath.Dir(cfg.IndexPath), INDEX_DIR_PERM); err != nil {
		return nil, err
	}

	return valueindex.Open(valueindex.StoreConfig{
		Path:      cfg.IndexPath,
		CacheSize: cfg.RecordCacheSize,
		Logger:    logger,
	})
}

func check(sess *session.Session, outW io.Writer) error {
	result, err := sess.Store().Preload(context.Background(), sess.Registry())
	if err != nil {
		return err
	}

	fmt.Fprintf(outW, "%d record(s) loaded, %d corrupt record(s) discarded\n", result.Loaded, len(result.Discarded))
	for _, key := range result.Discarded {
		fmt.Fprintln(outW, "discarded:", key)
	}
	return nil
}

func printKeys(store *valueindex.Store, prefix string, outW io.Writer) error {
	keys, err := store.Keys(prefix)
	if err != nil {
		return err
	}

	sort.Slice(keys, func(i, j int) bool {
		return natural.Less(keys[i], keys[j])
	})

	for _, key := range keys {
		fmt.Fprintln(outW, key)
	}
	return nil
}

type dumpedRecord struct {
	Key        string   `json:"key"`
	Kind       string   `json:"kind"`
	Value      string   `json:"value"`
	Namespaces []string `json:"namespaces"`
	Subs       []string `json:"subs"`
}

func dump(sess *session.Session, prefix string, selector string, outW io.Writer) error {
	return sess.Store().ForEach(sess.Registry(), prefix, func(key string, v plvalue.Value) error {
		resolution := sess.Resolve(v)[0]

		record := dumpedRecord{
			Key:        key,
			Kind:       v.Kind().String(),
			Value:      v.String(),
			Namespaces: resolution.NamespaceNames.Names(),
			Subs:       resolution.SubNames.Names(),
		}

		data, err := json.Marshal(record)
		if err != nil {
			return err
		}

		if selector != "" {
			selected := gjson.GetBytes(data, selector)
			if !selected.Exists() {
				return nil
			}
			data = []byte(selected.Raw)
		}

		data = append(data, '\n')
		_, err = outW.Write(data)
		return err
	})
}

func resolve(sess *session.Session, key string, outW io.Writer) error {
	v, found, err := sess.Store().Get(sess.Registry(), key)
	if err != nil {
		return err
	}
	if !found {
		return fmt.Errorf("no record with key %q", key)
	}

	resolution := sess.Resolve(v)[0]

	fmt.Fprintln(outW, "value:", v.String())
	fmt.Fprintln(outW, "kind:", v.Kind())
	fmt.Fprintln(outW, "namespaces:", resolution.NamespaceNames)
	fmt.Fprintln(outW, "subs:", resolution.SubNames)
	return nil
}

func exportSnapshot(store *valueindex.Store, path string) (finalErr error) {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer func() {
		finalErr = errors.Join(finalErr, f.Close())
	}()

	return store.Export(f)
}

func importSnapshot(store *valueindex.Store, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	return store.Import(f)
}
