package main

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"blogsync/internal/domain"
)

type itemFlags struct {
	title      string
	body       string
	bodyFile   string
	excerpt    string
	author     string
	publish    bool
	draft      bool
	date       string
	categories []string
	tags       []string
}

func (f *itemFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&f.title, "title", "t", "", "post title")
	cmd.Flags().StringVarP(&f.body, "body", "b", "", "post body (HTML)")
	cmd.Flags().StringVar(&f.bodyFile, "body-file", "", "read the body from a file")
	cmd.Flags().StringVar(&f.excerpt, "excerpt", "", "short summary")
	cmd.Flags().StringVar(&f.author, "author", "", "author name")
	cmd.Flags().BoolVar(&f.publish, "publish", false, "mark the post as published")
	cmd.Flags().BoolVar(&f.draft, "draft", false, "mark the post as a draft")
	cmd.Flags().StringVar(&f.date, "date", "", "publish time, RFC 3339")
	cmd.Flags().StringSliceVar(&f.categories, "category", nil, "category name (repeatable)")
	cmd.Flags().StringSliceVar(&f.tags, "tag", nil, "tag name (repeatable)")
	cmd.MarkFlagsMutuallyExclusive("publish", "draft")
	cmd.MarkFlagsMutuallyExclusive("body", "body-file")
}

// apply copies the flags the user actually set onto item.
func (f *itemFlags) apply(cmd *cobra.Command, item *domain.Item) error {
	changed := cmd.Flags().Changed
	if changed("title") {
		item.Title = f.title
	}
	if changed("body") {
		item.Body = f.body
	}
	if f.bodyFile != "" {
		data, err := os.ReadFile(f.bodyFile)
		if err != nil {
			return fmt.Errorf("read body file: %w", err)
		}
		item.Body = string(data)
	}
	if changed("excerpt") {
		item.Excerpt = f.excerpt
	}
	if changed("author") {
		item.Author = f.author
	}
	if f.publish {
		item.Status = domain.StatusPublished
	}
	if f.draft {
		item.Status = domain.StatusDraft
	}
	if f.date != "" {
		t, err := time.Parse(time.RFC3339, f.date)
		if err != nil {
			return fmt.Errorf("invalid --date: %w", err)
		}
		item.PublishedAt = t.UTC()
	}
	if changed("category") {
		item.SetCategories(f.categories)
	}
	if changed("tag") {
		item.SetTags(f.tags)
	}
	return nil
}

func newNewCommand(opts *rootOptions) *cobra.Command {
	flags := &itemFlags{}

	cmd := &cobra.Command{
		Use:   "new",
		Short: "Create a post in the local database",
		Example: `  blogsync new -t "Hello" -b "<p>First post</p>" --category News --tag intro
  blogsync new -t "Release notes" --body-file notes.html --publish`,
		Args: cobra.NoArgs,
		RunE: withApp(opts, func(cmd *cobra.Command, a *app, _ []string) error {
			item := domain.NewItem("", "")
			if err := flags.apply(cmd, item); err != nil {
				return err
			}
			if strings.TrimSpace(item.Title) == "" {
				return errors.New("a title is required")
			}
			if err := a.items.Save(cmd.Context(), item); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "created post %d\n", item.ID)
			return nil
		}),
	}
	flags.register(cmd)
	return cmd
}

func newEditCommand(opts *rootOptions) *cobra.Command {
	flags := &itemFlags{}
	var addCategories, removeCategories, addTags, removeTags []string

	cmd := &cobra.Command{
		Use:   "edit <id>",
		Short: "Change a local post",
		Args:  cobra.ExactArgs(1),
		RunE: withApp(opts, func(cmd *cobra.Command, a *app, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			item, err := a.items.Get(cmd.Context(), id)
			if err != nil {
				return err
			}
			if err := flags.apply(cmd, item); err != nil {
				return err
			}
			for _, n := range addCategories {
				item.AddCategory(n)
			}
			for _, n := range removeCategories {
				item.RemoveCategory(n)
			}
			for _, n := range addTags {
				item.AddTag(n)
			}
			for _, n := range removeTags {
				item.RemoveTag(n)
			}
			if err := a.items.Save(cmd.Context(), item); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "updated post %d\n", item.ID)
			return nil
		}),
	}
	flags.register(cmd)
	cmd.Flags().StringSliceVar(&addCategories, "add-category", nil, "add a category")
	cmd.Flags().StringSliceVar(&removeCategories, "remove-category", nil, "remove a category")
	cmd.Flags().StringSliceVar(&addTags, "add-tag", nil, "add a tag")
	cmd.Flags().StringSliceVar(&removeTags, "remove-tag", nil, "remove a tag")
	return cmd
}

func newListCommand(opts *rootOptions) *cobra.Command {
	var published bool

	cmd := &cobra.Command{
		Use:     "list",
		Short:   "List local posts, newest first",
		Aliases: []string{"ls"},
		Args:    cobra.NoArgs,
		RunE: withApp(opts, func(cmd *cobra.Command, a *app, _ []string) error {
			items, err := a.items.List(cmd.Context(), domain.ListFilter{PublishedOnly: published})
			if err != nil {
				return err
			}
			if len(items) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "no posts")
				return nil
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tREMOTE\tSTATUS\tSTATE\tDATE\tTITLE")
			for _, item := range items {
				state, err := a.sync.State(cmd.Context(), item.ID)
				if err != nil {
					return err
				}
				fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%s\n",
					item.ID,
					remoteLabel(item),
					item.Status,
					state,
					humanize.Time(item.PublishedAt),
					truncate(item.Title, 60),
				)
			}
			return w.Flush()
		}),
	}
	cmd.Flags().BoolVar(&published, "published", false, "only show published posts")
	return cmd
}

func newShowCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Print one local post",
		Args:  cobra.ExactArgs(1),
		RunE: withApp(opts, func(cmd *cobra.Command, a *app, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			item, err := a.items.Get(cmd.Context(), id)
			if err != nil {
				return err
			}
			state, err := a.sync.State(cmd.Context(), id)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "ID:         %d\n", item.ID)
			fmt.Fprintf(out, "Remote ID:  %s\n", remoteLabel(item))
			fmt.Fprintf(out, "Title:      %s\n", item.Title)
			fmt.Fprintf(out, "Status:     %s (%s)\n", item.Status, state)
			fmt.Fprintf(out, "Author:     %s\n", item.Author)
			fmt.Fprintf(out, "Published:  %s (%s)\n", item.PublishedAt.Local().Format(time.RFC1123), humanize.Time(item.PublishedAt))
			fmt.Fprintf(out, "Categories: %s\n", strings.Join(item.Categories, ", "))
			fmt.Fprintf(out, "Tags:       %s\n", strings.Join(item.Tags, ", "))
			if item.FeaturedImageURL != "" {
				fmt.Fprintf(out, "Image:      %s\n", item.FeaturedImageURL)
			}
			if item.Excerpt != "" {
				fmt.Fprintf(out, "\n%s\n", item.Excerpt)
			}
			fmt.Fprintf(out, "\n%s\n", item.Body)
			return nil
		}),
	}
}

func newTermsCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:       "terms <category|tag>",
		Short:     "List known categories or tags",
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{"category", "tag"},
		RunE: withApp(opts, func(cmd *cobra.Command, a *app, args []string) error {
			ns, err := parseNamespace(args[0])
			if err != nil {
				return err
			}
			terms, err := a.terms.List(cmd.Context(), ns)
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tREMOTE\tNAME")
			for _, t := range terms {
				remote := "-"
				if t.RemoteID > 0 {
					remote = strconv.FormatInt(t.RemoteID, 10)
				}
				fmt.Fprintf(w, "%d\t%s\t%s\n", t.ID, remote, t.Name)
			}
			return w.Flush()
		}),
	}
}

func parseID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id < 1 {
		return 0, fmt.Errorf("invalid post id %q", s)
	}
	return id, nil
}

func parseNamespace(s string) (domain.Namespace, error) {
	switch strings.ToLower(s) {
	case "category", "categories":
		return domain.NamespaceCategory, nil
	case "tag", "tags":
		return domain.NamespaceTag, nil
	}
	return 0, fmt.Errorf("unknown taxonomy %q, want category or tag", s)
}

func remoteLabel(item *domain.Item) string {
	if !item.HasRemoteID() {
		return "-"
	}
	return strconv.FormatInt(item.RemoteID, 10)
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
