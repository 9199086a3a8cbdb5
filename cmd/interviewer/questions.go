package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/pavelanni/interviewer/internal/catalog"
	"github.com/pavelanni/interviewer/internal/model"
)

func questionsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "questions",
		Short: "List the question catalog",
		Long: `List the questions matching a role and type, in catalog order.

With --file the catalog file is parsed and validated without touching the
database.`,
		RunE: runQuestions,
	}
	f := cmd.Flags()
	f.String("role", model.AnyRole, "Role filter")
	f.String("type", model.AllTypes, "Question type filter")
	f.String("file", "", "Validate and list a catalog file instead of the database")
	addStoreFlags(f)
	return cmd
}

func runQuestions(cmd *cobra.Command, _ []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)

	var all []model.Question
	if path := v.GetString("file"); path != "" {
		qs, err := catalog.LoadFile(path)
		if err != nil {
			return err
		}
		if err := catalog.Validate(qs); err != nil {
			return fmt.Errorf("invalid catalog %s: %w", path, err)
		}
		all = qs
	} else {
		db, err := openStore(v)
		if err != nil {
			return err
		}
		defer db.Close()
		if all, err = db.ListQuestions(); err != nil {
			return fmt.Errorf("list questions: %w", err)
		}
	}

	role, typ := v.GetString("role"), v.GetString("type")
	if !model.IsValidRole(role) {
		return model.Validationf("unknown role %q", role)
	}
	filtered := catalog.Filter(all, role, typ)

	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tROLE\tTYPE\tQUESTION")
	for _, q := range filtered {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", q.ID, q.Role, q.Type, q.Question)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	fmt.Fprintf(cmd.ErrOrStderr(), "%d of %d questions\n", len(filtered), len(all))
	return nil
}
