package main

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"casedesk/api/internal/search"
	"casedesk/api/internal/store"
)

const reindexPageSize = 500

func newReindexCommand(opts *rootOptions) *cobra.Command {
	var wait time.Duration

	cmd := &cobra.Command{
		Use:   "reindex",
		Short: "Rebuild the Meilisearch indexes from Postgres",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if strings.TrimSpace(opts.cfg.MeiliURL) == "" {
				return errors.New("MEILI_URL is not set")
			}
			ctx := cmd.Context()
			db, err := openDB(ctx, opts.cfg)
			if err != nil {
				return err
			}
			defer db.Close()

			meili := search.NewMeili(opts.cfg.MeiliURL, opts.cfg.MeiliMasterKey)
			defer meili.Close()
			if err := waitHealthy(ctx, meili, wait); err != nil {
				return err
			}

			snap, err := loadSnapshot(ctx, store.NewPostgresStore(db))
			if err != nil {
				return err
			}
			cases, clients, documents := snap.records()
			if err := search.NewService(meili, nil).ReindexAll(cases, clients, documents); err != nil {
				return fmt.Errorf("reindex: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "indexed %d cases, %d clients, %d documents\n", len(cases), len(clients), len(documents))
			return nil
		},
	}

	cmd.Flags().DurationVar(&wait, "wait", 30*time.Second, "how long to wait for meilisearch to become healthy")
	return cmd
}

func waitHealthy(ctx context.Context, meili *search.Meili, wait time.Duration) error {
	deadline := time.Now().Add(wait)
	for !meili.Healthy() {
		if time.Now().After(deadline) {
			return errors.New("meilisearch is not reachable")
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Second):
		}
	}
	return nil
}

type snapshotSource interface {
	ListCases(ctx context.Context, filter store.CaseFilter) ([]store.Case, int, error)
	ListClients(ctx context.Context, query string, limit, offset int) ([]store.User, int, error)
	ListAllDocuments(ctx context.Context) ([]store.Document, error)
}

type snapshot struct {
	cases     []store.Case
	clients   []store.User
	documents []store.Document
}

func loadSnapshot(ctx context.Context, src snapshotSource) (snapshot, error) {
	var snap snapshot
	for offset := 0; ; offset += reindexPageSize {
		page, total, err := src.ListCases(ctx, store.CaseFilter{IncludeArchived: true, Limit: reindexPageSize, Offset: offset})
		if err != nil {
			return snapshot{}, fmt.Errorf("list cases: %w", err)
		}
		snap.cases = append(snap.cases, page...)
		if len(page) == 0 || len(snap.cases) >= total {
			break
		}
	}
	for offset := 0; ; offset += reindexPageSize {
		page, total, err := src.ListClients(ctx, "", reindexPageSize, offset)
		if err != nil {
			return snapshot{}, fmt.Errorf("list clients: %w", err)
		}
		snap.clients = append(snap.clients, page...)
		if len(page) == 0 || len(snap.clients) >= total {
			break
		}
	}
	documents, err := src.ListAllDocuments(ctx)
	if err != nil {
		return snapshot{}, fmt.Errorf("list documents: %w", err)
	}
	snap.documents = documents
	return snap, nil
}

// records converts rows to index records. Documents inherit the client of
// their case so client-scoped searches can filter on them.
func (s snapshot) records() ([]search.CaseRecord, []search.ClientRecord, []search.DocumentRecord) {
	caseClient := make(map[string]string, len(s.cases))
	cases := make([]search.CaseRecord, 0, len(s.cases))
	for _, item := range s.cases {
		caseClient[item.ID] = item.ClientID
		cases = append(cases, search.CaseRecord{
			ID:            item.ID,
			Number:        item.Number,
			Title:         item.Title,
			Description:   item.Description,
			CaseType:      item.Type,
			Status:        item.Status,
			OpposingParty: item.OpposingParty,
			ClientID:      item.ClientID,
			ClientName:    item.ClientName,
		})
	}
	clients := make([]search.ClientRecord, 0, len(s.clients))
	for _, user := range s.clients {
		clients = append(clients, search.ClientRecord{ID: user.ID, Name: user.Name, Email: user.Email, Phone: user.Phone})
	}
	documents := make([]search.DocumentRecord, 0, len(s.documents))
	for _, doc := range s.documents {
		documents = append(documents, search.DocumentRecord{
			ID:          doc.ID,
			Name:        doc.Name,
			ContentType: doc.ContentType,
			CaseID:      doc.CaseID,
			ClientID:    caseClient[doc.CaseID],
			Archived:    doc.Archived,
		})
	}
	return cases, clients, documents
}
