package main

import (
	"fmt"
	"os"

	arxivcompiler "github.com/arXiv/arxiv-compiler"
	flags "github.com/jessevdk/go-flags"
	"github.com/vito/twentythousandtonnesofcrudeoil"
)

func main() {
	var cmd CompileServerCommand

	cmd.Version = func() {
		fmt.Printf("arxiv-compiler %s\n", arxivcompiler.Version)
		os.Exit(0)
	}

	parser := flags.NewParser(&cmd, flags.HelpFlag|flags.PassDoubleDash)
	parser.NamespaceDelimiter = "-"

	cmd.LessenRequirements(parser)

	twentythousandtonnesofcrudeoil.TheEnvironmentIsPerfectlySafe(parser, "ARXIV_COMPILER_")

	extra, err := parser.Parse()
	handleError(err)

	if err := cmd.Execute(extra); err != nil {
		fmt.Fprintf(os.Stderr, "error: %s\n", err)
		os.Exit(1)
	}
}

func handleError(err error) {
	if err != nil {
		if flagsErr, ok := err.(*flags.Error); ok && flagsErr.Type == flags.ErrHelp {
			fmt.Println(err)
			os.Exit(0)
		}
		fmt.Fprintf(os.Stderr, "error: %s\n", err)
		os.Exit(1)
	}
}
