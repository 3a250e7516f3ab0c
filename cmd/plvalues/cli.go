package main

import (
	"flag"
	"fmt"
	"io"
	"slices"

	"github.com/posener/complete/v2"
	"github.com/posener/complete/v2/predict"
)

const (
	CHECK_SUBCMD                 = "check"
	KEYS_SUBCMD                  = "keys"
	DUMP_SUBCMD                  = "dump"
	RESOLVE_SUBCMD               = "resolve"
	EXPORT_SUBCMD                = "export"
	IMPORT_SUBCMD                = "import"
	WATCH_SUBCMD                 = "watch"
	INSTALL_COMPLETIONS_SUBCMD   = "install-completions"
	UNINSTALL_COMPLETIONS_SUBCMD = "uninstall-completions"
	HELP_SUBCMD                  = "help"

	SNAPSHOT_FILE_PATTERN = "*.plvi"
)

var (
	SUBCOMMANDS = []string{
		CHECK_SUBCMD, KEYS_SUBCMD, DUMP_SUBCMD, RESOLVE_SUBCMD, EXPORT_SUBCMD, IMPORT_SUBCMD, WATCH_SUBCMD,
		INSTALL_COMPLETIONS_SUBCMD, UNINSTALL_COMPLETIONS_SUBCMD, HELP_SUBCMD,
	}

	HELP_SUBCMD_EQUIVALENTS = []string{"--help", "-help", "-h"}

	SUBCOMMAND_DESCRIPTIONS = [][2]string{
		{CHECK_SUBCMD, "decode all the records of the value index and discard the corrupt ones"},
		{KEYS_SUBCMD, "list the keys of the records"},
		{DUMP_SUBCMD, "print the records and their resolved names as JSON lines"},
		{RESOLVE_SUBCMD, "print the namespace and sub names a record may denote"},
		{EXPORT_SUBCMD, "write a compressed snapshot of the value index"},
		{IMPORT_SUBCMD, "load a snapshot into an empty value index"},
		{WATCH_SUBCMD, "invalidate the analysis session when source files change, until interrupted"},
		{INSTALL_COMPLETIONS_SUBCMD, "install CLI completions by addding the completion command to the detected rc file (supported shells are bash, zsh and fish)"},
		{UNINSTALL_COMPLETIONS_SUBCMD, "uninstall CLI completions by removing the completion command from the detected rc file"},
		{HELP_SUBCMD, "show the general help or command-specific help"},
	}

	SUBCOMMAND_DESCRIPTION_MAP = map[string]string{}

	CMD_HELP = "commands:\n"

	indexFlags = map[string]complete.Predictor{
		"config": predict.Files("*.yaml"),
		"index":  predict.Files("*"),
	}

	cmd = &complete.Command{
		Sub: map[string]*complete.Command{
			CHECK_SUBCMD: {Flags: indexFlags},
			KEYS_SUBCMD: {
				Flags: withFlags(indexFlags, map[string]complete.Predictor{
					"prefix": predict.Nothing,
				}),
			},
			DUMP_SUBCMD: {
				Flags: withFlags(indexFlags, map[string]complete.Predictor{
					"prefix": predict.Nothing,
					"select": predict.Set{"namespaces", "subs", "value", "kind"},
				}),
			},
			RESOLVE_SUBCMD: {Flags: indexFlags},
			EXPORT_SUBCMD: {
				Flags: indexFlags,
				Args:  predict.Files(SNAPSHOT_FILE_PATTERN),
			},
			IMPORT_SUBCMD: {
				Flags: indexFlags,
				Args:  predict.Files(SNAPSHOT_FILE_PATTERN),
			},
			WATCH_SUBCMD: {
				Flags: indexFlags,
				Args:  predict.Dirs("*"),
			},
			INSTALL_COMPLETIONS_SUBCMD:   {},
			UNINSTALL_COMPLETIONS_SUBCMD: {},
			HELP_SUBCMD:                  {},
		},
	}
)

func init() {
	for _, entry := range SUBCOMMAND_DESCRIPTIONS {
		cmd, desc := entry[0], entry[1]
		SUBCOMMAND_DESCRIPTION_MAP[cmd] = desc
		CMD_HELP += "\t" + cmd + " - " + desc + "\n"
	}
	CMD_HELP += "\nType `" + COMMAND_NAME + " help <command>` to get command-specific help.\n"
}

func withFlags(base, additional map[string]complete.Predictor) map[string]complete.Predictor {
	flags := make(map[string]complete.Predictor, len(base)+len(additional))
	for name, predictor := range base {
		flags[name] = predictor
	}
	for name, predictor := range additional {
		flags[name] = predictor
	}
	return flags
}

func showHelp(flags *flag.FlagSet, args []string, out io.Writer) bool {
	//only show help
	if slices.Contains(args, "-h") || slices.Contains(args, "--help") {

		cmd := flags.Name()
		if desc, ok := SUBCOMMAND_DESCRIPTION_MAP[cmd]; ok {
			fmt.Fprintln(out, desc)
		}

		flags.SetOutput(out)
		fmt.Fprint(out, "\noptions:\n")
		flags.PrintDefaults()

		return true
	}

	return false
}
