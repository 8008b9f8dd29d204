package cmd

import (
	"context"
	"fmt"
	"strconv"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/deemkeen/pubengine/domain"
	"github.com/deemkeen/pubengine/storage"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12")).Padding(0, 1)
	cellStyle   = lipgloss.NewStyle().Padding(0, 1)
)

type actorRow struct {
	actor     domain.Actor
	followers int
	following int
	statuses  int
}

// actorRows counts the collections of every local actor.
func actorRows(ctx context.Context, store storage.Storage) ([]actorRow, error) {
	actors, err := store.GetLocalActors(ctx)
	if err != nil {
		return nil, err
	}

	rows := make([]actorRow, len(actors))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for i := range actors {
		rows[i].actor = actors[i]
		row := &rows[i]
		g.Go(func() (err error) {
			row.followers, err = store.GetFollowersCount(ctx, row.actor.Id)
			return err
		})
		g.Go(func() (err error) {
			row.following, err = store.GetFollowingCount(ctx, row.actor.Id)
			return err
		})
		g.Go(func() (err error) {
			row.statuses, err = store.CountStatus(ctx, row.actor.Id)
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return rows, nil
}

func actorsTable(rows []actorRow) *table.Table {
	t := table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(lipgloss.Color("8"))).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			return cellStyle
		}).
		Headers("HANDLE", "NAME", "FOLLOWERS", "FOLLOWING", "STATUSES", "CREATED")

	for _, r := range rows {
		t.Row(
			r.actor.Handle(),
			r.actor.Name,
			strconv.Itoa(r.followers),
			strconv.Itoa(r.following),
			strconv.Itoa(r.statuses),
			r.actor.CreatedAt.Format("2006-01-02"),
		)
	}
	return t
}

func actorsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "actors",
		Short: "List local actors",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			conf, err := loadConfig()
			if err != nil {
				return err
			}
			store, err := openStorage(conf)
			if err != nil {
				return err
			}
			defer store.Close()

			rows, err := actorRows(cmd.Context(), store)
			if err != nil {
				return err
			}
			if len(rows) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No local actors yet, create one with `setup`.")
				return nil
			}
			fmt.Fprintln(cmd.OutOrStdout(), actorsTable(rows))
			return nil
		},
	}
}
