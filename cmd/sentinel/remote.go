package main

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"text/tabwriter"

	"github.com/BurntSushi/toml"
	"github.com/spf13/cobra"
)

// Profiles is the on-disk set of control plane remotes.
type Profiles struct {
	Active  string             `toml:"active"`
	Remotes map[string]Profile `toml:"remotes"`
}

// Profile is one named control plane endpoint.
type Profile struct {
	URL         string `toml:"url"`
	GRPCAddr    string `toml:"grpc_addr,omitempty"`
	Token       string `toml:"token,omitempty"`
	Description string `toml:"description,omitempty"`
}

func (p Profiles) names() []string {
	out := make([]string, 0, len(p.Remotes))
	for name := range p.Remotes {
		out = append(out, name)
	}
	slices.Sort(out)
	return out
}

func (p Profiles) lookup(name string) (Profile, error) {
	r, ok := p.Remotes[name]
	if !ok {
		return Profile{}, fmt.Errorf("remote %q not found", name)
	}
	return r, nil
}

// profilesPath is ~/.local/state/sentinel/remotes.toml. The directory is
// created owner-only.
func profilesPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	dir := filepath.Join(home, ".local", "state", "sentinel")
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", err
	}
	return filepath.Join(dir, "remotes.toml"), nil
}

func readProfiles() (Profiles, error) {
	p := Profiles{Remotes: map[string]Profile{}}
	path, err := profilesPath()
	if err != nil {
		return p, err
	}
	if _, err := toml.DecodeFile(path, &p); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return p, fmt.Errorf("reading %s: %w", path, err)
	}
	if p.Remotes == nil {
		p.Remotes = map[string]Profile{}
	}
	return p, nil
}

// writeProfiles replaces the file with mode 0600; it can hold tokens.
func writeProfiles(p Profiles) error {
	path, err := profilesPath()
	if err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return err
	}
	if err := toml.NewEncoder(f).Encode(p); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// updateProfiles applies fn to the stored profiles and writes them back.
func updateProfiles(fn func(*Profiles) error) error {
	p, err := readProfiles()
	if err != nil {
		return err
	}
	if err := fn(&p); err != nil {
		return err
	}
	return writeProfiles(p)
}

var activeProfile = sync.OnceValue(func() Profile {
	p, err := readProfiles()
	if err != nil || p.Active == "" {
		return Profile{}
	}
	return p.Remotes[p.Active]
})

func maskToken(tok string) string {
	if len(tok) <= 8 {
		return tok
	}
	return tok[:8] + "..."
}

func checkRemoteURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid url %q: %w", raw, err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("invalid url %q: want http(s)://host[:port]", raw)
	}
	return nil
}

var remoteCmd = &cobra.Command{
	Use:               "remote",
	Short:             "Manage named control plane remotes",
	GroupID:           "system",
	PersistentPreRunE: local,
}

var remoteAddCmd = &cobra.Command{
	Use:   "add <name> <url>",
	Short: "Add or replace a named remote",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := checkRemoteURL(args[1]); err != nil {
			return err
		}
		prof := Profile{URL: args[1]}
		prof.GRPCAddr, _ = cmd.Flags().GetString("grpc-addr")
		prof.Token, _ = cmd.Flags().GetString("token")
		prof.Description, _ = cmd.Flags().GetString("description")

		err := updateProfiles(func(p *Profiles) error {
			p.Remotes[args[0]] = prof
			return nil
		})
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "saved remote %s -> %s\n", args[0], prof.URL)
		return nil
	},
}

var remoteRemoveCmd = &cobra.Command{
	Use:     "remove <name>",
	Aliases: []string{"rm"},
	Short:   "Delete a named remote",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		name := args[0]
		err := updateProfiles(func(p *Profiles) error {
			if _, err := p.lookup(name); err != nil {
				return err
			}
			delete(p.Remotes, name)
			if p.Active == name {
				p.Active = ""
			}
			return nil
		})
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "removed remote %s\n", name)
		return nil
	},
}

var remoteListCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List remotes; the active one is starred",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		p, err := readProfiles()
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		if len(p.Remotes) == 0 {
			fmt.Fprintln(out, "no remotes configured")
			return nil
		}

		w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "  NAME\tURL\tGRPC\tTOKEN\tDESCRIPTION")
		for _, name := range p.names() {
			r := p.Remotes[name]
			star := " "
			if name == p.Active {
				star = "*"
			}
			fmt.Fprintf(w, "%s %s\t%s\t%s\t%s\t%s\n", star, name, r.URL, dash(r.GRPCAddr), dash(maskToken(r.Token)), r.Description)
		}
		return w.Flush()
	},
}

var remoteShowCmd = &cobra.Command{
	Use:   "show [name]",
	Short: "Show one remote (default: the active one)",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		p, err := readProfiles()
		if err != nil {
			return err
		}
		name := p.Active
		if len(args) == 1 {
			name = args[0]
		}
		if name == "" {
			return errors.New("no active remote; pass a name")
		}
		r, err := p.lookup(name)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "name:        %s\n", name)
		fmt.Fprintf(out, "url:         %s\n", r.URL)
		fmt.Fprintf(out, "grpc:        %s\n", dash(r.GRPCAddr))
		fmt.Fprintf(out, "token:       %s\n", dash(maskToken(r.Token)))
		fmt.Fprintf(out, "description: %s\n", dash(r.Description))
		return nil
	},
}

var remoteUseCmd = &cobra.Command{
	Use:   "use [name]",
	Short: "Select the active remote; no name clears the selection",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var name string
		if len(args) == 1 {
			name = args[0]
		}
		err := updateProfiles(func(p *Profiles) error {
			if name != "" {
				if _, err := p.lookup(name); err != nil {
					return err
				}
			}
			p.Active = name
			return nil
		})
		if err != nil {
			return err
		}
		if name == "" {
			fmt.Fprintln(cmd.OutOrStdout(), "active remote cleared")
		} else {
			fmt.Fprintf(cmd.OutOrStdout(), "now using remote %s\n", name)
		}
		return nil
	},
}

func init() {
	f := remoteAddCmd.Flags()
	f.String("grpc-addr", "", "gRPC address (host:port)")
	f.String("token", "", "bearer token")
	f.String("description", "", "free-form note")

	remoteCmd.AddCommand(remoteAddCmd, remoteRemoveCmd, remoteListCmd, remoteShowCmd, remoteUseCmd)
}
