package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/tendant/shotlocker/pkg/shotlocker"
	"github.com/tendant/shotlocker/pkg/shotlocker/api"
	"github.com/tendant/shotlocker/pkg/shotlocker/config"
	"github.com/tendant/shotlocker/pkg/shotlocker/otio"
)

func newLockersCommand(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "lockers",
		Short: "List, enable and disable lockers",
	}

	var all, available bool
	list := &cobra.Command{
		Use:   "list",
		Short: "List lockers, or buckets that could become lockers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := c.runtime(cmd.Context())
			if err != nil {
				return err
			}
			var lockers []shotlocker.Locker
			if available {
				lockers, err = rt.Service.ListAvailableBuckets(cmd.Context())
			} else {
				lockers, err = rt.Service.ListLockers(cmd.Context(), all)
			}
			if err != nil {
				return err
			}
			if lockers == nil {
				lockers = []shotlocker.Locker{}
			}
			return c.print(cmd.OutOrStdout(), map[string]any{"locker": lockers})
		},
	}
	list.Flags().BoolVar(&all, "all", false, "include inactive lockers")
	list.Flags().BoolVar(&available, "available", false, "list buckets that are not active lockers")

	cmd.AddCommand(list, lockerToggle(c, "enable", true), lockerToggle(c, "disable", false))
	return cmd
}

func lockerToggle(c *cli, use string, enabled bool) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <bucket>",
		Short: use + " a locker",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := c.runtime(cmd.Context())
			if err != nil {
				return err
			}
			locker, err := rt.Service.SetLockerEnabled(cmd.Context(), args[0], enabled)
			if err != nil {
				return err
			}
			return c.print(cmd.OutOrStdout(), map[string]any{"locker": locker})
		},
	}
}

func newEditsCommand(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "edits",
		Short: "Upload, inspect, enable and disable edits",
	}

	var all bool
	list := &cobra.Command{
		Use:   "list <bucket>",
		Short: "List the edits in a locker",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := c.runtime(cmd.Context())
			if err != nil {
				return err
			}
			edits, err := rt.Service.ListEdits(cmd.Context(), args[0], all)
			if err != nil {
				return err
			}
			if edits == nil {
				edits = []shotlocker.Edit{}
			}
			return c.print(cmd.OutOrStdout(), map[string]any{"edit": edits})
		},
	}
	list.Flags().BoolVar(&all, "all", false, "include inactive edits")

	get := &cobra.Command{
		Use:   "get <bucket> <edit>",
		Short: "Show one edit",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := c.runtime(cmd.Context())
			if err != nil {
				return err
			}
			edit, err := rt.Service.GetEdit(cmd.Context(), args[0], args[1])
			if err != nil {
				return err
			}
			return c.print(cmd.OutOrStdout(), edit)
		},
	}

	logs := &cobra.Command{
		Use:   "logs <bucket> <edit>",
		Short: "Show an edit's event log",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := c.runtime(cmd.Context())
			if err != nil {
				return err
			}
			entries, err := rt.Service.EditLog(cmd.Context(), args[0], args[1])
			if err != nil {
				return err
			}
			return c.print(cmd.OutOrStdout(), map[string]any{"log": entries})
		},
	}

	cmd.AddCommand(list, get, logs, newUploadCommand(c),
		editToggle(c, "enable", true), editToggle(c, "disable", false))
	return cmd
}

func newUploadCommand(c *cli) *cobra.Command {
	var process bool
	cmd := &cobra.Command{
		Use:   "upload <bucket> <file>",
		Short: "Upload an edit document (.otio, .xml or .aaf)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			bucket, file := args[0], args[1]
			info, err := os.Stat(file)
			if err != nil {
				return err
			}
			if info.Size() > api.MaxUploadSize {
				return fmt.Errorf("media too large: %d bytes, limit %d", info.Size(), api.MaxUploadSize)
			}
			data, err := os.ReadFile(file)
			if err != nil {
				return err
			}

			rt, err := c.runtime(cmd.Context())
			if err != nil {
				return err
			}
			key, err := rt.Service.UploadEdit(cmd.Context(), bucket, filepath.Base(file), data)
			if err != nil {
				return err
			}
			out := map[string]string{"upload": key}
			if process {
				arn, err := rt.Pipeline.UploadTrigger(cmd.Context(), rt.Workflow, bucket, key)
				if err != nil {
					return err
				}
				out["execution"] = arn
			}
			return c.print(cmd.OutOrStdout(), out)
		},
	}
	cmd.Flags().BoolVar(&process, "process", false, "start processing directly instead of waiting for the bucket notification")
	return cmd
}

func editToggle(c *cli, use string, enabled bool) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <bucket> <edit>",
		Short: use + " an edit and update its media tags",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := c.runtime(cmd.Context())
			if err != nil {
				return err
			}
			bucket, editID := args[0], args[1]
			if err := rt.Service.RequireEdit(cmd.Context(), bucket, editID); err != nil {
				return err
			}
			if _, err := rt.Service.SetEditEnabled(cmd.Context(), bucket, editID, enabled, true); err != nil {
				return err
			}
			edit, err := rt.Service.GetEdit(cmd.Context(), bucket, editID)
			if err != nil {
				return err
			}
			return c.print(cmd.OutOrStdout(), map[string]any{"edit": edit})
		},
	}
}

func newAccessCommand(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "access",
		Short: "Grant, revoke and list principal access to edits",
	}

	list := &cobra.Command{
		Use:   "list <bucket> <edit>",
		Short: "List the grants on an edit, expired ones included",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := c.runtime(cmd.Context())
			if err != nil {
				return err
			}
			grants, err := rt.Service.ListAccess(cmd.Context(), args[0], args[1])
			if err != nil {
				return err
			}
			return c.print(cmd.OutOrStdout(), map[string]any{"access": grants})
		},
	}

	var expires string
	grant := &cobra.Command{
		Use:   "grant <bucket> <edit> <principal-arn>",
		Short: "Grant a user or role read access to an edit's media",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := c.runtime(cmd.Context())
			if err != nil {
				return err
			}
			changed, err := rt.Service.GrantAccess(cmd.Context(), args[0], args[1], args[2], expires)
			if err != nil {
				return err
			}
			return c.print(cmd.OutOrStdout(), map[string]any{"grant": args[2], "changed": changed})
		},
	}
	grant.Flags().StringVar(&expires, "expires", "", "last day of access, YYYY-MM-DD")

	revoke := &cobra.Command{
		Use:   "revoke <bucket> <edit> <principal-arn>",
		Short: "Revoke a principal's access to an edit",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := c.runtime(cmd.Context())
			if err != nil {
				return err
			}
			changed, err := rt.Service.RevokeAccess(cmd.Context(), args[0], args[1], args[2])
			if err != nil {
				return err
			}
			return c.print(cmd.OutOrStdout(), map[string]any{"deny": args[2], "changed": changed})
		},
	}

	tokens := &cobra.Command{
		Use:   "tokens <bucket> <principal-arn>",
		Short: "List the edits a principal has been granted",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := c.runtime(cmd.Context())
			if err != nil {
				return err
			}
			ids, err := rt.Service.ListTokensForPrincipal(cmd.Context(), args[0], args[1])
			if err != nil {
				return err
			}
			if ids == nil {
				ids = []string{}
			}
			return c.print(cmd.OutOrStdout(), map[string]any{"edit": ids})
		},
	}

	cmd.AddCommand(list, grant, revoke, tokens)
	return cmd
}

func newExpandCommand(c *cli) *cobra.Command {
	var check bool
	cmd := &cobra.Command{
		Use:   "expand <name-or-s3-uri>",
		Short: "Expand a frame range such as shot.[0001-0100].exr",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !check {
				if err := shotlocker.CheckFrameRange(args[0], shotlocker.DefaultMaxFrames); err != nil {
					return err
				}
				var names []string
				for name := range shotlocker.ExpandFrames(args[0]) {
					names = append(names, name)
				}
				return c.print(cmd.OutOrStdout(), names)
			}
			rt, err := c.runtime(cmd.Context())
			if err != nil {
				return err
			}
			checks, err := rt.Service.ExpandWithExistence(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return c.print(cmd.OutOrStdout(), checks)
		},
	}
	cmd.Flags().BoolVar(&check, "check", false, "check which expanded objects exist (argument must be an s3:// URI)")
	return cmd
}

func newConformCommand(c *cli) *cobra.Command {
	var (
		bucket     string
		out        string
		keepS3Refs bool
		replace    bool
	)
	cmd := &cobra.Command{
		Use:   "conform <edit-file>",
		Short: "Resolve a local timeline's media references against a bucket",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			tl, err := otio.Convert(filepath.Base(args[0]), data)
			if err != nil {
				return err
			}
			rt, err := c.runtime(cmd.Context())
			if err != nil {
				return err
			}
			res, err := rt.Service.ConformTimeline(cmd.Context(), "", bucket, tl, shotlocker.ConformOptions{
				KeepS3Refs:     keepS3Refs,
				ReplaceMissing: replace,
			})
			if err != nil {
				return err
			}
			if out != "" {
				doc, err := tl.Marshal()
				if err != nil {
					return err
				}
				if err := os.WriteFile(out, doc, 0o644); err != nil {
					return err
				}
				res.Written = true
			}
			return c.print(cmd.OutOrStdout(), res)
		},
	}
	cmd.Flags().StringVar(&bucket, "bucket", "", "bucket to resolve media in")
	cmd.Flags().StringVar(&out, "out", "", "write the conformed timeline to this file")
	cmd.Flags().BoolVar(&keepS3Refs, "keep-s3-refs", false, "treat every s3:// reference as resolved")
	cmd.Flags().BoolVar(&replace, "replace-missing", true, "replace unresolved references with missing references")
	_ = cmd.MarkFlagRequired("bucket")
	return cmd
}

func newTagCommand(c *cli) *cobra.Command {
	var remove bool
	cmd := &cobra.Command{
		Use:   "tag <bucket> <edit>",
		Short: "Add or remove an edit's access token on its media",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := c.runtime(cmd.Context())
			if err != nil {
				return err
			}
			bucket, editID := args[0], args[1]
			edit, err := rt.Service.GetEdit(cmd.Context(), bucket, editID)
			if err != nil {
				return err
			}
			if edit.Manifest == "" {
				return fmt.Errorf("edit %s has no processed manifest: %w", editID, shotlocker.ErrNotFound)
			}
			mode := shotlocker.TagAdd
			if remove {
				mode = shotlocker.TagRemove
			}
			res, err := rt.Service.Tag(cmd.Context(), shotlocker.TagRequest{
				Bucket:     bucket,
				Key:        edit.Manifest,
				EditID:     editID,
				ResultsKey: edit.Results,
				Mode:       mode,
			})
			if err != nil {
				return err
			}
			return c.print(cmd.OutOrStdout(), res)
		},
	}
	cmd.Flags().BoolVar(&remove, "remove", false, "remove the token instead of adding it")
	return cmd
}

func newClearTagsCommand(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "clear-tags <bucket>",
		Short: "Remove every access token from every object in a bucket",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := c.runtime(cmd.Context())
			if err != nil {
				return err
			}
			res, err := rt.Service.ClearAccessTags(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return c.print(cmd.OutOrStdout(), res)
		},
	}
}

func newEnvCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "env",
		Short: "Describe the environment variables read at startup",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), config.Usage())
		},
	}
}
