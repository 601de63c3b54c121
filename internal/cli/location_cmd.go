// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jeranaias/daypilot/internal/location"
	"github.com/jeranaias/daypilot/internal/profile"
	"github.com/jeranaias/daypilot/internal/ui/styles"
)

// errNotSaved reports that the user declined every proposed match.
var errNotSaved = errors.New("location not saved")

func newLocationCommand(s *session) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "location",
		Short: "Manage your confirmed location",
	}
	cmd.AddCommand(newLocationSetCommand(s), newLocationShowCommand(s), newLocationClearCommand(s))
	return cmd
}

func newLocationSetCommand(s *session) *cobra.Command {
	var (
		yes  bool
		pick int
	)
	cmd := &cobra.Command{
		Use:   "set <place>",
		Short: "Geocode a place and save it after confirmation",
		Example: `  daypilot location set Lisbon
  daypilot location set "Springfield" --pick 2`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := s.app()
			if err != nil {
				return err
			}
			defer a.Close()

			ctx := cmd.Context()
			r := a.Resolver()
			c, err := r.Propose(ctx, strings.Join(args, " "))
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			writeMatches(out, c)

			index, err := s.chooseMatch(cmd, c, yes, pick)
			if err != nil {
				return err
			}
			loc, err := a.ConfirmLocation(ctx, r, c, index)
			if err != nil {
				return err
			}
			fmt.Fprintln(out, styles.RenderSuccess(fmt.Sprintf("Location saved: %s (%s)", loc.Name, zoneName(loc))))
			return nil
		},
	}
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "accept the best match without asking")
	cmd.Flags().IntVar(&pick, "pick", 0, "accept match number N without asking")
	return cmd
}

// chooseMatch returns the index the user confirmed. Nothing is chosen
// implicitly: a match needs --yes, --pick or an answer at the prompt.
func (s *session) chooseMatch(cmd *cobra.Command, c location.Candidate, yes bool, pick int) (int, error) {
	n := len(c.Matches)
	switch {
	case pick != 0:
		if pick < 1 || pick > n {
			return 0, usageErrorf("--pick must be between 1 and %d", n)
		}
		return pick - 1, nil
	case yes && !c.Ambiguous:
		return 0, nil
	case !s.interactive():
		if c.Ambiguous {
			return 0, usageErrorf("%q matches several places; rerun with --pick N", c.Query)
		}
		return 0, usageErrorf("confirm the match with --yes or --pick N")
	}

	p := s.prompter(cmd)
	defer p.Close()

	if !c.Ambiguous {
		ok, err := confirm(p, fmt.Sprintf("Use %s?", c.Best().Location.Name))
		if err != nil {
			return 0, err
		}
		if ok {
			return 0, nil
		}
		if n == 1 {
			return 0, errNotSaved
		}
	}

	answer, err := promptDefault(p, fmt.Sprintf("Choose 1-%d (empty to cancel)", n), "")
	if err != nil {
		return 0, err
	}
	if answer == "" {
		return 0, errNotSaved
	}
	choice, err := strconv.Atoi(answer)
	if err != nil || choice < 1 || choice > n {
		return 0, usageErrorf("%q is not a choice between 1 and %d", answer, n)
	}
	return choice - 1, nil
}

func writeMatches(w io.Writer, c location.Candidate) {
	if c.Ambiguous {
		fmt.Fprintln(w, styles.RenderWarning(fmt.Sprintf("%q matches several places:", c.Query)))
	} else {
		fmt.Fprintln(w, styles.RenderInfo(fmt.Sprintf("Best match for %q:", c.Query)))
	}
	for i, m := range c.Matches {
		fmt.Fprintf(w, "  %d. %s  %s\n", i+1, m.Location.Name,
			styles.RenderMuted(fmt.Sprintf("(%.4f, %.4f, %s, confidence %d)",
				m.Location.Latitude, m.Location.Longitude, zoneName(m.Location), m.Confidence)))
	}
}

func zoneName(loc profile.Location) string {
	if loc.Timezone == "" {
		return "local time"
	}
	return loc.Timezone
}

func newLocationShowCommand(s *session) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show the confirmed location",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := s.app()
			if err != nil {
				return err
			}
			defer a.Close()

			loc, err := a.Location(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if asJSON {
				return writeJSON(out, loc, s.color())
			}
			fmt.Fprintf(out, "%s\n", loc.Name)
			fmt.Fprintf(out, "  Coordinates: %.4f, %.4f\n", loc.Latitude, loc.Longitude)
			fmt.Fprintf(out, "  Time zone:   %s\n", zoneName(loc))
			if !loc.ConfirmedAt.IsZero() {
				fmt.Fprintf(out, "  Confirmed:   %s\n", loc.ConfirmedAt.Local().Format("2006-01-02 15:04"))
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print as JSON")
	return cmd
}

func newLocationClearCommand(s *session) *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Forget the confirmed location",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := s.app()
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.ClearLocation(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), styles.RenderSuccess("Location cleared"))
			return nil
		},
	}
}
