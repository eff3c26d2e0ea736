package main

import (
	"context"
	"errors"
	"fmt"
	"mime"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/claude/repquest/internal/apiclient"
	"github.com/claude/repquest/internal/attempts"
	"github.com/claude/repquest/internal/coach"
	"github.com/claude/repquest/internal/quest"
)

func newAnalyzeCmd(a *app) *cobra.Command {
	var mimeType string

	cmd := &cobra.Command{
		Use:   "analyze <quest-id> <video-file>",
		Short: "Count reps in a recorded clip and claim the quest",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			q, ok := quest.Find(args[0])
			if !ok {
				return fmt.Errorf("unknown quest %q (see repquest-live quests)", args[0])
			}
			if !a.client.Authenticated() {
				return fmt.Errorf("video analysis needs server_url, token and subject in the live config")
			}
			path := args[1]
			if mimeType == "" {
				mimeType = videoType(path)
			}

			ctx := cmd.Context()
			store, err := a.openAttempts()
			if err != nil {
				return err
			}
			defer store.Close()

			hash, err := attempts.HashFile(path)
			if err != nil {
				return fmt.Errorf("reading clip: %w", err)
			}
			attempt, err := store.Start(ctx, q.ID, attempts.SourceVideo, quest.TargetReps, hash)
			if err != nil {
				return err
			}

			f, err := os.Open(path)
			if err != nil {
				return fmt.Errorf("opening clip: %w", err)
			}
			defer f.Close()

			fmt.Fprintln(a.out, styleDim.Render("Analyzing video with Gemini..."))
			res, err := a.client.AnalyzeVideo(ctx, apiclient.VideoUpload{
				Filename:   filepath.Base(path),
				MIMEType:   mimeType,
				Workout:    q.Workout,
				TargetReps: quest.TargetReps,
				Data:       f,
			})
			if err != nil {
				_ = store.Finish(context.Background(), attempt.ID, 0, false, false)
				var apiErr *apiclient.APIError
				if errors.As(err, &apiErr) {
					return fmt.Errorf("gemini analysis failed (%d): %s", apiErr.Status, apiErr.Message)
				}
				return err
			}

			reps := min(quest.TargetReps, max(0, res.Reps))
			complete := reps >= quest.TargetReps

			tip, err := a.client.Cue(ctx, coach.Request{
				QuestTitle: q.Title + " videoUpload",
				Workout:    q.Workout,
				Phase:      "analyzed",
				Reps:       reps,
				TargetReps: quest.TargetReps,
			})
			if err != nil {
				a.log.Debug("coach tip unavailable", "error", err)
			}

			var creditErr error
			credited, alreadyCredited := false, false
			if complete {
				alreadyCredited, err = store.ClipCredited(ctx, hash)
				if err != nil {
					a.log.Warn("checking clip history", "error", err)
				}
				if !alreadyCredited {
					creditErr = a.client.Credit(ctx, quest.VideoUploadReward)
					credited = creditErr == nil
				}
			}
			if err := store.Finish(ctx, attempt.ID, reps, complete, credited); err != nil {
				a.log.Warn("recording attempt", "error", err)
			}

			fmt.Fprintln(a.out, videoStatus(reps, quest.TargetReps, string(res.Confidence), res.Notes, complete, alreadyCredited, creditErr))
			if tip != "" {
				fmt.Fprintln(a.out, styleCue.Render("Coach: "+tip))
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&mimeType, "type", "", "video MIME type (default from the file extension)")
	return cmd
}

// videoType guesses a clip's MIME type from its extension.
func videoType(path string) string {
	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".webm":
		return "video/webm"
	case ".mp4", ".m4v":
		return "video/mp4"
	case ".mov":
		return "video/quicktime"
	}
	if t := mime.TypeByExtension(ext); t != "" {
		return t
	}
	return "application/octet-stream"
}

// videoStatus is the line shown after an analysis.
func videoStatus(reps, target int, confidence, notes string, complete, alreadyCredited bool, creditErr error) string {
	detail := ""
	if n := strings.TrimSpace(notes); n != "" {
		detail = " " + n
	}
	switch {
	case !complete:
		return fmt.Sprintf("Workout analyzed (%s confidence). %d reps counted. Need %d to slay the monster.%s", confidence, reps, target, detail)
	case creditErr != nil:
		return fmt.Sprintf("Workout analyzed (%d reps), but EXP update failed.", reps)
	case alreadyCredited:
		return fmt.Sprintf("Quest complete. %d reps counted (%s confidence). This clip has already earned EXP.%s", reps, confidence, detail)
	default:
		return fmt.Sprintf("Quest complete. %d reps counted (%s confidence). Monster defeated.%s", reps, confidence, detail)
	}
}
