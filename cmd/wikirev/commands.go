package main

import (
	"fmt"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/ramsingla/acts-as-wiki/internal/database"
	"github.com/ramsingla/acts-as-wiki/internal/records"
	"github.com/ramsingla/acts-as-wiki/internal/revisions"
	"github.com/ramsingla/acts-as-wiki/internal/wiki"
	"github.com/spf13/cobra"
)

const timestampLayout = "2006-01-02 15:04:05"

func newMigrateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the schema and import legacy wiki entries",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := newApplication(cmd.Context())
			if err != nil {
				return err
			}
			defer app.Close()
			if err := database.Migrate(app.db, app.logger); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "schema up to date")
			return nil
		},
	}
}

func newAuthorCommand() *cobra.Command {
	authorCmd := &cobra.Command{
		Use:   "author",
		Short: "Manage revision authors",
	}

	var name, email string
	addCmd := &cobra.Command{
		Use:   "add",
		Short: "Create an author",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := newApplication(cmd.Context())
			if err != nil {
				return err
			}
			defer app.Close()
			author, err := app.users.Create(cmd.Context(), name, email)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "author %d created\n", author.ID)
			return nil
		},
	}
	addCmd.Flags().StringVar(&name, "name", "", "Author display name")
	addCmd.Flags().StringVar(&email, "email", "", "Author email")
	_ = addCmd.MarkFlagRequired("name")

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List authors",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := newApplication(cmd.Context())
			if err != nil {
				return err
			}
			defer app.Close()
			authors, err := app.users.List(cmd.Context())
			if err != nil {
				return err
			}
			writer := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(writer, "ID\tNAME\tEMAIL")
			for _, author := range authors {
				fmt.Fprintf(writer, "%d\t%s\t%s\n", author.ID, author.Name, author.Email)
			}
			return writer.Flush()
		},
	}

	authorCmd.AddCommand(addCmd, listCmd)
	return authorCmd
}

func newTokenCommand() *cobra.Command {
	tokenCmd := &cobra.Command{
		Use:   "token",
		Short: "Manage API tokens",
	}
	issueCmd := &cobra.Command{
		Use:   "issue <author-id>",
		Short: "Issue a bearer token for an author",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			authorID, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("author id must be an integer: %w", err)
			}
			app, err := newApplication(cmd.Context())
			if err != nil {
				return err
			}
			defer app.Close()
			if _, err := app.users.Find(cmd.Context(), authorID); err != nil {
				return err
			}
			issuer, err := newTokenIssuer(app)
			if err != nil {
				return err
			}
			token, expiresIn, err := issuer.IssueAuthorToken(cmd.Context(), authorID)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			fmt.Fprintf(cmd.ErrOrStderr(), "expires in %ds\n", expiresIn)
			return nil
		},
	}
	tokenCmd.AddCommand(issueCmd)
	return tokenCmd
}

func newHistoryCommand() *cobra.Command {
	var limit int
	var ascending bool
	historyCmd := &cobra.Command{
		Use:   "history <type> <id> <field>",
		Short: "List the revisions of a record field",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := newApplication(cmd.Context())
			if err != nil {
				return err
			}
			defer app.Close()
			proxy, err := loadFieldProxy(cmd, app, args)
			if err != nil {
				return err
			}
			criteria := revisions.Criteria{Limit: limit}
			if ascending {
				criteria.Order = revisions.Ascending
			}
			found, err := proxy.Find(cmd.Context(), criteria)
			if err != nil {
				return err
			}
			writer := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(writer, "VERSION\tAUTHOR\tCREATED\tREVERTED\tSUMMARY")
			for _, revision := range found {
				fmt.Fprintf(writer, "%d\t%d\t%s\t%t\t%s\n",
					revision.Version,
					revision.AuthorID,
					revision.CreatedAt.Format(timestampLayout),
					revision.Reverted,
					valueOrDash(revision.Summary))
			}
			return writer.Flush()
		},
	}
	historyCmd.Flags().IntVar(&limit, "limit", 0, "Maximum number of revisions, 0 for all")
	historyCmd.Flags().BoolVar(&ascending, "asc", false, "List oldest first")
	return historyCmd
}

func newDiffCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "diff <type> <id> <field> <from> <to>",
		Short: "Show the line diff between two versions of a field",
		Args:  cobra.ExactArgs(5),
		RunE: func(cmd *cobra.Command, args []string) error {
			from, err := strconv.ParseInt(args[3], 10, 64)
			if err != nil {
				return fmt.Errorf("from version must be an integer: %w", err)
			}
			to, err := strconv.ParseInt(args[4], 10, 64)
			if err != nil {
				return fmt.Errorf("to version must be an integer: %w", err)
			}
			app, err := newApplication(cmd.Context())
			if err != nil {
				return err
			}
			defer app.Close()
			proxy, err := loadFieldProxy(cmd, app, args[:3])
			if err != nil {
				return err
			}
			changes, err := proxy.Diff(cmd.Context(), from, to)
			if err != nil {
				return err
			}
			fmt.Fprint(cmd.OutOrStdout(), formatChanges(changes))
			return nil
		},
	}
}

func loadFieldProxy(cmd *cobra.Command, app *application, args []string) (*wiki.FieldProxy, error) {
	ownerType, err := records.NewOwnerType(args[0])
	if err != nil {
		return nil, err
	}
	id, err := records.ParseRecordID(args[1])
	if err != nil {
		return nil, err
	}
	entry, err := app.records.Find(cmd.Context(), ownerType, id)
	if err != nil {
		return nil, err
	}
	return entry.Fields().Field(args[2])
}

// formatChanges renders changes one line per change, old and new side by side
// for changed lines.
func formatChanges(changes []revisions.Change) string {
	var builder strings.Builder
	for _, change := range changes {
		switch change.Action {
		case revisions.Unchanged:
			fmt.Fprintf(&builder, "  %s\n", valueOrDash(change.OldLine))
		case revisions.Removed:
			fmt.Fprintf(&builder, "- %s\n", valueOrDash(change.OldLine))
		case revisions.Added:
			fmt.Fprintf(&builder, "+ %s\n", valueOrDash(change.NewLine))
		case revisions.Changed:
			fmt.Fprintf(&builder, "- %s\n+ %s\n", valueOrDash(change.OldLine), valueOrDash(change.NewLine))
		}
	}
	return builder.String()
}

func valueOrDash(value *string) string {
	if value == nil {
		return "-"
	}
	return *value
}
