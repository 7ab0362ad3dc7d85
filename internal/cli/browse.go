package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/rescale/rescale-drive/internal/apperrors"
	"github.com/rescale/rescale-drive/internal/config"
	"github.com/rescale/rescale-drive/internal/listing"
	"github.com/rescale/rescale-drive/internal/models"
	"github.com/rescale/rescale-drive/internal/output"
)

const browseHelp = `Commands:
  ls                 show the current page again
  cd <name|id>       open a folder from the current page
  up                 go to the parent folder
  crumb <n>          jump to breadcrumb n (0 = root)
  next, prev         change page
  page <n>           go to page n
  sort <order>       default, name, size or date
  ext <ext|all>      filter files by extension
  folders on|off     show or hide folders
  refresh            drop cached pages of this folder and reload
  help               show this help
  quit               leave`

func newBrowseCmd() *cobra.Command {
	var flags viewFlags

	cmd := &cobra.Command{
		Use:   "browse",
		Short: "Browse folders interactively",
		Long: `Browse folders interactively. Pages are cached for the session and
reused when you come back to a folder.

` + browseHelp,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var cfg *config.Config
			drive, err := openDrive(cmd, func(c *config.Config) {
				flags.adjust(c)
				cfg = c
			})
			if err != nil {
				return err
			}
			filter, err := flags.filter(cfg)
			if err != nil {
				return err
			}

			s := &browseSession{
				ctx:     commandContext(cmd),
				browser: drive.NewBrowser(filter),
				out:     cmd.OutOrStdout(),
			}
			return s.run(cmd.InOrStdin())
		},
	}

	flags.register(cmd)
	return cmd
}

type browseSession struct {
	ctx     context.Context
	browser *listing.Browser
	out     io.Writer
}

func (s *browseSession) run(in io.Reader) error {
	s.reload()
	scanner := bufio.NewScanner(in)
	for {
		fmt.Fprintf(s.out, "%s> ", output.Breadcrumb(s.browser.Nav().Frames()))
		if !scanner.Scan() {
			fmt.Fprintln(s.out)
			return scanner.Err()
		}
		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 {
			continue
		}
		if done := s.exec(fields[0], strings.Join(fields[1:], " ")); done {
			return nil
		}
		if err := s.ctx.Err(); err != nil {
			return err
		}
	}
}

// exec runs one command and reports whether the session should end.
func (s *browseSession) exec(cmd, arg string) bool {
	b := s.browser
	switch cmd {
	case "quit", "exit", "q":
		return true
	case "help", "?":
		fmt.Fprintln(s.out, browseHelp)
	case "ls":
		s.reload()
	case "cd":
		if arg == "" {
			s.fail(errors.New("usage: cd <name|id>"))
			return false
		}
		if arg == ".." {
			s.exec("up", "")
			return false
		}
		item, ok := b.FindInPage(arg)
		if !ok {
			s.fail(fmt.Errorf("%q is not on this page", arg))
			return false
		}
		if err := b.Open(item); err != nil {
			s.fail(err)
			return false
		}
		s.reload()
	case "up":
		if !b.Up() {
			fmt.Fprintln(s.out, "already at root")
			return false
		}
		s.reload()
	case "crumb":
		n, err := strconv.Atoi(arg)
		if err != nil {
			s.fail(errors.New("usage: crumb <n>"))
			return false
		}
		// Breadcrumb 0 is the root, which is stack index -1.
		if err := b.Crumb(n - 1); err != nil {
			s.fail(err)
			return false
		}
		s.reload()
	case "next":
		if !b.NextPage() {
			fmt.Fprintln(s.out, "no more pages")
			return false
		}
		s.reload()
	case "prev":
		if !b.PrevPage() {
			fmt.Fprintln(s.out, "already on page 1")
			return false
		}
		s.reload()
	case "page":
		n, err := strconv.Atoi(arg)
		if err != nil || n < 1 {
			s.fail(errors.New("usage: page <n>"))
			return false
		}
		b.GoToPage(n)
		s.reload()
	case "sort":
		by, err := models.ParseSortBy(arg)
		if err != nil {
			s.fail(err)
			return false
		}
		f := b.State().Snapshot().Filter
		f.SortBy = by
		s.applyFilter(f)
	case "ext":
		f := b.State().Snapshot().Filter
		f.Extension = arg
		if strings.EqualFold(arg, "all") {
			f.Extension = ""
		}
		s.applyFilter(f)
	case "folders":
		f := b.State().Snapshot().Filter
		switch strings.ToLower(arg) {
		case "on":
			f.ShowFolders = true
		case "off":
			f.ShowFolders = false
		default:
			s.fail(errors.New("usage: folders on|off"))
			return false
		}
		s.applyFilter(f)
	case "refresh":
		b.Refresh()
		s.reload()
	default:
		s.fail(fmt.Errorf("unknown command %q (try help)", cmd))
	}
	return false
}

// reload fetches the page the navigation points at and prints it. On error
// the previous listing stays in place.
func (s *browseSession) reload() {
	snap, err := s.browser.Load(s.ctx)
	if errors.Is(err, apperrors.ErrStale) {
		return
	}
	if err != nil {
		s.fail(err)
		return
	}
	_ = renderListing(s.out, output.Breadcrumb(s.browser.Nav().Frames()), snap, s.browser.PageSize())
}

func (s *browseSession) applyFilter(f models.ViewFilter) {
	snap := s.browser.SetFilter(f)
	_ = renderListing(s.out, output.Breadcrumb(s.browser.Nav().Frames()), &snap, s.browser.PageSize())
}

func (s *browseSession) fail(err error) {
	fmt.Fprintf(s.out, "error: %v\n", err)
}
