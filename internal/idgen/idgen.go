// Package idgen issues short, URL-safe identifiers for reports, commands and
// directives.
package idgen

import (
	"fmt"

	nanoid "github.com/matoous/go-nanoid/v2"
)

// Prefixes mark what kind of record an ID belongs to.
const (
	ReportPrefix    = "rpt-"
	CommandPrefix   = "cmd-"
	DirectivePrefix = "dir-"
)

// Alphabet is the character set of the random part. Dots and wildcards are
// excluded so IDs are safe inside bus subjects.
const Alphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// Length is the number of random characters after the prefix.
const Length = 12

// Report returns a new report ID.
func Report() (string, error) { return withPrefix(ReportPrefix) }

// Command returns a new command ID.
func Command() (string, error) { return withPrefix(CommandPrefix) }

// Directive returns a new deadman directive ID.
func Directive() (string, error) { return withPrefix(DirectivePrefix) }

func withPrefix(prefix string) (string, error) {
	id, err := nanoid.Generate(Alphabet, Length)
	if err != nil {
		return "", fmt.Errorf("idgen: %w", err)
	}
	return prefix + id, nil
}
