package cli

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"ready2publish/pkg/catalog"
	"ready2publish/pkg/domain"
	"ready2publish/pkg/queue"
	"ready2publish/pkg/store"
)

type migrator interface {
	Migrate(ctx context.Context) error
}

func newMigrateCmd(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Bring the database schema up to date",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := e.db(cmd.Context())
			if err != nil {
				return err
			}
			m, ok := s.(migrator)
			if !ok {
				return errors.New("store does not support migrations")
			}
			if err := m.Migrate(cmd.Context()); err != nil {
				return fmt.Errorf("migrate: %w", err)
			}
			e.ok("schema up to date")
			return nil
		},
	}
}

func newCategoriesCmd(e *env) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "categories",
		Aliases: []string{"cat"},
		Short:   "Manage book categories",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "seed",
			Short: "Create or update the default categories",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				s, err := e.db(cmd.Context())
				if err != nil {
					return err
				}
				saved, err := store.SeedCategories(cmd.Context(), s, store.DefaultCategories())
				if err != nil {
					return fmt.Errorf("seed categories: %w", err)
				}
				e.ok("%d categories seeded", len(saved))
				return nil
			},
		},
		&cobra.Command{
			Use:   "ls",
			Short: "List categories",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				s, err := e.db(cmd.Context())
				if err != nil {
					return err
				}
				cats, err := s.ListCategories(cmd.Context())
				if err != nil {
					return err
				}
				fmt.Fprintf(e.out, "%-5s %-24s %s\n", "ID", "SLUG", "NAME")
				for _, c := range cats {
					fmt.Fprintf(e.out, "%-5d %-24s %s\n", c.ID, c.Slug, c.Name)
				}
				return nil
			},
		},
	)
	return cmd
}

func newCatalogCmd(e *env) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "catalog",
		Short: "List and moderate book projects",
	}
	cmd.AddCommand(newCatalogListCmd(e), newModerateCmd(e, "approve", domain.ItemActive), newModerateCmd(e, "reject", domain.ItemInactive))
	return cmd
}

func newCatalogListCmd(e *env) *cobra.Command {
	var (
		status   string
		author   string
		search   string
		category string
		minPrice string
		maxPrice string
		sortKey  string
	)
	cmd := &cobra.Command{
		Use:   "ls",
		Short: "List book projects with the shop's filters",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := e.db(cmd.Context())
			if err != nil {
				return err
			}
			q := store.CatalogQuery{AuthorID: strings.TrimSpace(author)}
			if status != "" && status != "all" {
				q.Statuses = []domain.ItemStatus{domain.ItemStatus(status)}
			}
			items, err := s.ListCatalog(cmd.Context(), q)
			if err != nil {
				return err
			}
			items = catalog.Apply(items, catalog.ParseCriteria(search, category, minPrice, maxPrice, sortKey))

			e.header("%d book projects", len(items))
			fmt.Fprintf(e.out, "%-6s %-9s %9s %6s  %s\n", "ID", "STATUS", "PRICE", "RATING", "TITLE / AUTHOR")
			for _, it := range items {
				line := it.Title
				if name := it.AuthorName(); name != "" {
					line += " / " + name
				}
				fmt.Fprintf(e.out, "%-6d %s %9.2f %6.1f  %s\n", it.ID, statusLabel(it.Status), it.Price, it.Rating, line)
			}
			return nil
		},
	}
	f := cmd.Flags()
	f.StringVar(&status, "status", "all", "filter by status (active, pending, inactive, sold, all)")
	f.StringVar(&author, "author", "", "filter by author id")
	f.StringVarP(&search, "query", "q", "", "search title, description and author")
	f.StringVar(&category, "category", "", "category id")
	f.StringVar(&minPrice, "min", "", "minimum price")
	f.StringVar(&maxPrice, "max", "", "maximum price")
	f.StringVar(&sortKey, "sort", "", "newest, price-low, price-high, rating or title")
	return cmd
}

func newModerateCmd(e *env, verb string, to domain.ItemStatus) *cobra.Command {
	return &cobra.Command{
		Use:   verb + " <id>...",
		Short: fmt.Sprintf("Mark book projects %s", to),
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ids := make([]int64, 0, len(args))
			for _, raw := range args {
				id, err := strconv.ParseInt(raw, 10, 64)
				if err != nil || id <= 0 {
					return fmt.Errorf("invalid id %q", raw)
				}
				ids = append(ids, id)
			}
			s, err := e.db(cmd.Context())
			if err != nil {
				return err
			}
			for _, id := range ids {
				if err := s.SetCatalogItemStatus(cmd.Context(), id, to); err != nil {
					if errors.Is(err, domain.ErrNotFound) {
						return fmt.Errorf("book project %d not found", id)
					}
					return err
				}
				e.ok("book project %d is now %s", id, to)
			}
			return nil
		},
	}
}

func newOrdersCmd(e *env) *cobra.Command {
	var buyer string
	cmd := &cobra.Command{
		Use:   "orders",
		Short: "Show orders",
	}
	ls := &cobra.Command{
		Use:   "ls",
		Short: "List orders, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := e.db(cmd.Context())
			if err != nil {
				return err
			}
			orders, err := s.ListOrders(cmd.Context(), strings.TrimSpace(buyer))
			if err != nil {
				return err
			}
			fmt.Fprintf(e.out, "%-26s %-9s %14s %10s %5s  %-16s %s\n", "ID", "STATUS", "TOTAL", "COMMISSION", "ITEMS", "CREATED", "BUYER")
			for _, o := range orders {
				total := fmt.Sprintf("%.2f %s", o.TotalAmount, strings.ToUpper(o.Currency))
				fmt.Fprintf(e.out, "%-26s %-9s %14s %10.2f %5d  %-16s %s\n",
					o.ID, o.Status, total, o.PlatformCommission, len(o.Items),
					o.CreatedAt.Format("2006-01-02 15:04"), o.BuyerID)
			}
			return nil
		},
	}
	ls.Flags().StringVar(&buyer, "buyer", "", "filter by buyer id")
	cmd.AddCommand(ls)
	return cmd
}

func newContactCmd(e *env) *cobra.Command {
	var status string
	cmd := &cobra.Command{
		Use:   "contact",
		Short: "Show contact messages",
	}
	ls := &cobra.Command{
		Use:   "ls",
		Short: "List contact messages",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := e.db(cmd.Context())
			if err != nil {
				return err
			}
			msgs, err := s.ListContactMessages(cmd.Context(), domain.ContactStatus(strings.TrimSpace(status)))
			if err != nil {
				return err
			}
			for _, m := range msgs {
				e.header("#%d %s  [%s]", m.ID, m.Subject, m.Status)
				fmt.Fprintf(e.out, "  from: %s <%s>  at %s\n", m.Name, m.Email, m.CreatedAt.Format("2006-01-02 15:04"))
				fmt.Fprintf(e.out, "  %s\n", m.Message)
			}
			return nil
		},
	}
	ls.Flags().StringVar(&status, "status", "", "filter by status (new, read, replied)")
	cmd.AddCommand(ls)
	return cmd
}

func newEventsCmd(e *env) *cobra.Command {
	var (
		types []string
		count int64
	)
	cmd := &cobra.Command{
		Use:   "events",
		Short: "Show domain events published by the services",
	}
	ls := &cobra.Command{
		Use:   "ls",
		Short: "List recent events, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if count <= 0 {
				return fmt.Errorf("invalid count %d", count)
			}
			streams, err := e.events(cmd.Context())
			if err != nil {
				return err
			}
			for _, typ := range types {
				events, err := streams.Recent(cmd.Context(), typ, count)
				if err != nil {
					return fmt.Errorf("reading %s: %w", typ, err)
				}
				e.header("%s (%d)", typ, len(events))
				for _, ev := range events {
					fmt.Fprintf(e.out, "  %s  %-26s  %s\n", ev.OccurredAt.Format("2006-01-02 15:04:05"), ev.ID, ev.Payload)
				}
			}
			return nil
		},
	}
	ls.Flags().StringSliceVar(&types, "type", []string{queue.OrderCreated, queue.ContactReceived}, "event types to show")
	ls.Flags().Int64VarP(&count, "count", "n", 20, "events per type")
	cmd.AddCommand(ls)
	return cmd
}

// statusLabel pads before coloring so columns stay aligned.
func statusLabel(s domain.ItemStatus) string {
	padded := fmt.Sprintf("%-9s", s)
	switch s {
	case domain.ItemActive:
		return color.GreenString(padded)
	case domain.ItemPending:
		return color.YellowString(padded)
	case domain.ItemInactive:
		return color.RedString(padded)
	default:
		return padded
	}
}
