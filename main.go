package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v2/log"
	"github.com/pkg/errors"
	"github.com/wkbae/go-cp-viewer/config"
	"github.com/wkbae/go-cp-viewer/content"
	"github.com/wkbae/go-cp-viewer/fetcher"
	"github.com/wkbae/go-cp-viewer/metadata"
	"github.com/wkbae/go-cp-viewer/model"
	"github.com/wkbae/go-cp-viewer/navigation"
	"github.com/wkbae/go-cp-viewer/network"
	"github.com/wkbae/go-cp-viewer/prefetch"
	"github.com/wkbae/go-cp-viewer/resolver"
	"github.com/wkbae/go-cp-viewer/store"
	"github.com/wkbae/go-cp-viewer/viewer"
)

const usage = "usage: cpviewer <courseID> <moduleID>"

const help = `commands:
  next, prev     show the following or preceding page
  toc            print the table of contents
  go <n|href>    show a page by number or href
  prefetch       download the package for offline use
  refresh        discard cached content and reload
  rm             delete the downloaded files
  status         print the download status
  quit`

func main() {
	if err := run(os.Args[1:]); err != nil {
		printError(err)
		os.Exit(1)
	}
}

func printError(err error) {
	fmt.Fprintf(os.Stderr, "Error: %T %+v\n", errors.Cause(err), err)
}

func run(args []string) error {
	if len(args) != 2 {
		return errors.New(usage)
	}
	courseID, err := strconv.Atoi(args[0])
	if err != nil {
		return errors.Wrapf(err, "invalid course id \"%s\"", args[0])
	}
	moduleID, err := strconv.Atoi(args[1])
	if err != nil {
		return errors.Wrapf(err, "invalid module id \"%s\"", args[1])
	}

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	log.SetLevel(logLevel(cfg.Log.Level))
	log.SetOutput(os.Stderr)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := os.MkdirAll(filepath.Dir(cfg.Cache.DBPath), 0700); err != nil {
		return errors.Wrapf(err, "failed to make directory for \"%s\"", cfg.Cache.DBPath)
	}
	st, err := store.Open(cfg.Cache.DBPath)
	if err != nil {
		return err
	}
	defer st.Close()

	f := fetcher.New(fetcher.NewHTTPClient(cfg.HTTP.UserAgent, cfg.HTTP.Timeout), cfg.HTTP.MaxRetries)
	meta := metadata.New(cfg.Site.URL, cfg.Site.Token, f)
	cache := content.NewCache(cfg.Cache.Dir, cfg.Site.Token, cfg.Cache.Parallelism, f, st)
	res := resolver.New(cache, cfg.Site.Token)

	console := viewer.NewConsole(os.Stdout, os.Stdin)
	defer console.Close()

	pkg := &model.Package{ID: moduleID, CourseID: courseID}
	o := prefetch.New(pkg, courseID, prefetch.Collaborators{
		Metadata:   meta,
		Cache:      cache,
		Resolver:   res,
		Publisher:  console,
		Confirmer:  console,
		Notifier:   console,
		Display:    console,
		Refresh:    console,
		Completion: meta,
		Liveness:   console,
		Online:     network.NewMonitor(),
	})

	if err := o.Activate(ctx); err != nil {
		// already reported on the console
		log.Debugw("activation failed", "error", err)
	}
	fmt.Println(help)
	return loop(ctx, console, o)
}

func loop(ctx context.Context, console *viewer.Console, o *prefetch.Orchestrator) error {
	nav := o.Navigation()
	for {
		if ctx.Err() != nil {
			return nil
		}
		fmt.Print("> ")
		line, err := console.ReadLine()
		if err != nil {
			return nil
		}
		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}

		switch fields[0] {
		case "next", "n":
			if ok, err := nav.Next(); err != nil {
				printError(err)
			} else if !ok {
				fmt.Println("This is the last page.")
			}
		case "prev", "p":
			if ok, err := nav.Previous(); err != nil {
				printError(err)
			} else if !ok {
				fmt.Println("This is the first page.")
			}
		case "toc":
			info := viewer.NewInfo(pkgTitle(o), "", nav.Items(), nav.Current())
			if err := viewer.WriteTOC(os.Stdout, info); err != nil {
				printError(err)
			}
		case "go":
			if len(fields) < 2 {
				fmt.Println("usage: go <n|href>")
				continue
			}
			href := pageHref(nav, fields[1])
			if href == "" {
				fmt.Println("No such page.")
				continue
			}
			if err := nav.Load(href); err != nil {
				printError(err)
			}
		case "prefetch":
			if err := o.Prefetch(ctx); err != nil {
				log.Debugw("prefetch failed", "error", err)
			}
			console.PrintStatus()
		case "refresh":
			if err := o.InvalidateAndReload(ctx); err != nil {
				log.Debugw("refresh failed", "error", err)
			}
		case "rm":
			if err := o.RemoveFiles(ctx); err != nil {
				printError(err)
			}
			console.PrintStatus()
		case "status":
			console.PrintStatus()
		case "quit", "q", "exit":
			return nil
		default:
			fmt.Println(help)
		}
	}
}

// pageHref accepts a 1-based page number or a href.
func pageHref(nav *navigation.Controller, arg string) string {
	items := nav.Items()
	if n, err := strconv.Atoi(arg); err == nil {
		if n >= 1 && n <= items.Len() {
			return items.Items[n-1].Href
		}
		return ""
	}
	if items.IndexOf(arg) < 0 {
		return ""
	}
	return arg
}

func pkgTitle(o *prefetch.Orchestrator) string {
	if t := o.Package().Name; t != "" {
		return t
	}
	return fmt.Sprintf("Package %d", o.Package().ID)
}

func logLevel(s string) log.Level {
	switch strings.ToLower(s) {
	case "trace":
		return log.LevelTrace
	case "debug":
		return log.LevelDebug
	case "warn":
		return log.LevelWarn
	case "error":
		return log.LevelError
	default:
		return log.LevelInfo
	}
}
