package main

import (
	"context"
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/mark3labs/mcp-go/server"
	"github.com/mdp/qrterminal/v3"
	"github.com/spf13/cobra"

	"github.com/claude/repquest/internal/mcp"
	"github.com/claude/repquest/internal/progression"
)

func newAttemptsCmd(a *app) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "attempts",
		Short: "List recent local quest attempts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := a.openAttempts()
			if err != nil {
				return err
			}
			defer store.Close()

			list, err := store.Recent(cmd.Context(), limit)
			if err != nil {
				return err
			}
			if len(list) == 0 {
				fmt.Fprintln(a.out, styleDim.Render("No attempts yet."))
				return nil
			}

			w := tabwriter.NewWriter(a.out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "STARTED\tQUEST\tSOURCE\tREPS\tRESULT")
			for _, at := range list {
				fmt.Fprintf(w, "%s\t%s\t%s\t%d/%d\t%s\n",
					at.StartedAt.Local().Format(time.DateTime), at.QuestID, at.Source, at.Reps, at.Target, attemptResult(at.Completed, at.Credited, at.EndedAt != nil))
			}
			return w.Flush()
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "number of attempts to show")
	return cmd
}

func attemptResult(completed, credited, ended bool) string {
	switch {
	case !ended:
		return "unfinished"
	case completed && credited:
		return "defeated, EXP credited"
	case completed:
		return "defeated"
	default:
		return "escaped"
	}
}

func newProfileCmd(a *app) *cobra.Command {
	var showQR bool

	cmd := &cobra.Command{
		Use:   "profile",
		Short: "Show rank and EXP",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := a.client.GetProfile(cmd.Context())
			if err != nil {
				return err
			}

			class := p.Class
			if class == "" {
				class = progression.DefaultClass
			}
			fmt.Fprintln(a.out, styleHeader.Render(strings.ToUpper(class+" · rank "+string(p.Rank))))
			fmt.Fprintf(a.out, "EXP %d", p.Exp)
			if p.NextRank != "" {
				fmt.Fprintf(a.out, " (%d to rank %s)", p.ExpToNext, p.NextRank)
			}
			fmt.Fprintln(a.out)
			if p.RankLockedUntil != nil && p.RankLockedUntil.After(time.Now()) {
				fmt.Fprintln(a.out, styleDim.Render("Rank locked until "+p.RankLockedUntil.Local().Format(time.DateOnly)))
			}
			if showQR && p.QRPayload != "" {
				qrterminal.GenerateHalfBlock(p.QRPayload, qrterminal.L, a.out)
				fmt.Fprintln(a.out, styleDim.Render(p.QRPayload))
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&showQR, "qr", false, "render the rank QR code")
	return cmd
}

func newQuestsCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "quests",
		Short: "List quests",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			quests, err := a.client.Quests(cmd.Context())
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(a.out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tMONSTER\tWORKOUT\tDIFFICULTY\tEXP")
			for _, q := range quests {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\n", q.ID, q.Monster, q.Workout, q.Difficulty, q.Difficulty.Reward())
			}
			return w.Flush()
		},
	}
}

// newMCPCmd serves the MCP tools over stdio, backed by the remote API.
func newMCPCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Serve RepQuest MCP tools over stdio using the remote API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !a.client.Authenticated() {
				return fmt.Errorf("mcp needs server_url, token and subject in the live config")
			}
			s := mcp.New(a.client, Version, a.log)
			subject := a.client.Subject()
			return server.ServeStdio(s, server.WithStdioContextFunc(func(ctx context.Context) context.Context {
				return mcp.WithSubject(ctx, subject)
			}))
		},
	}
}
