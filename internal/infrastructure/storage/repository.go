package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"

	"FeedScanner/internal/domain"
	"FeedScanner/internal/ports"
)

var itemColumns = []string{
	"id", "title", "url", "content", "summary", "author",
	"source_id", "source_name", "published_at", "ingested_at",
	"category_name", "category_color", "relevancy_score",
}

// Repository persists sources, categories and items in SQLite or Postgres.
type Repository struct {
	db      *sql.DB
	dialect dialect
	builder sq.StatementBuilderType
}

var (
	_ ports.ItemRepository = (*Repository)(nil)
	_ ports.SourceCatalog  = (*Repository)(nil)
)

func newRepository(db *sql.DB, d dialect) *Repository {
	return &Repository{
		db:      db,
		dialect: d,
		builder: sq.StatementBuilder.PlaceholderFormat(d.placeholder),
	}
}

// Close closes the underlying database connection.
func (r *Repository) Close() error {
	if r == nil || r.db == nil {
		return nil
	}
	return r.db.Close()
}

// Driver reports which database backend is in use.
func (r *Repository) Driver() string {
	return r.dialect.driver
}

// ActiveSources lists enabled feed sources ordered by id.
func (r *Repository) ActiveSources(ctx context.Context) ([]domain.FeedSource, error) {
	query, args, err := r.builder.
		Select("id", "name", "url", "access_key", "active").
		From("sources").
		Where(sq.Eq{"active": true}).
		OrderBy("id").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build sources query: %w", err)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query sources: %w", err)
	}
	defer rows.Close()

	var sources []domain.FeedSource
	for rows.Next() {
		var s domain.FeedSource
		if err := rows.Scan(&s.ID, &s.Name, &s.URL, &s.AccessKey, &s.Active); err != nil {
			return nil, fmt.Errorf("scan source: %w", err)
		}
		sources = append(sources, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration: %w", err)
	}
	return sources, nil
}

// ActiveCategories lists enabled categories ordered by id.
func (r *Repository) ActiveCategories(ctx context.Context) ([]domain.Category, error) {
	query, args, err := r.builder.
		Select("id", "name", "description", "color", "active").
		From("categories").
		Where(sq.Eq{"active": true}).
		OrderBy("id").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build categories query: %w", err)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query categories: %w", err)
	}
	defer rows.Close()

	var categories []domain.Category
	for rows.Next() {
		var c domain.Category
		if err := rows.Scan(&c.ID, &c.Name, &c.Description, &c.Color, &c.Active); err != nil {
			return nil, fmt.Errorf("scan category: %w", err)
		}
		categories = append(categories, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration: %w", err)
	}
	return categories, nil
}

// UpsertSource inserts a source or refreshes the one with the same URL.
func (r *Repository) UpsertSource(ctx context.Context, source domain.FeedSource) error {
	query, args, err := r.builder.
		Insert("sources").
		Columns("name", "url", "access_key", "active").
		Values(source.Name, source.URL, source.AccessKey, source.Active).
		Suffix("ON CONFLICT (url) DO UPDATE SET name = excluded.name, access_key = excluded.access_key, active = excluded.active").
		ToSql()
	if err != nil {
		return fmt.Errorf("build source upsert: %w", err)
	}
	if err := r.execNoResult(ctx, query, args...); err != nil {
		return fmt.Errorf("upsert source %s: %w", source.URL, err)
	}
	return nil
}

// UpsertCategory inserts a category or refreshes the one with the same name.
func (r *Repository) UpsertCategory(ctx context.Context, category domain.Category) error {
	query, args, err := r.builder.
		Insert("categories").
		Columns("name", "description", "color", "active").
		Values(category.Name, category.Description, category.Color, category.Active).
		Suffix("ON CONFLICT (name) DO UPDATE SET description = excluded.description, color = excluded.color, active = excluded.active").
		ToSql()
	if err != nil {
		return fmt.Errorf("build category upsert: %w", err)
	}
	if err := r.execNoResult(ctx, query, args...); err != nil {
		return fmt.Errorf("upsert category %s: %w", category.Name, err)
	}
	return nil
}

// ExistsByURL reports whether an item with the exact URL is stored.
func (r *Repository) ExistsByURL(ctx context.Context, url string) (bool, error) {
	query, args, err := r.builder.
		Select("1").
		From("items").
		Where(sq.Eq{"url": url}).
		Limit(1).
		ToSql()
	if err != nil {
		return false, fmt.Errorf("build exists query: %w", err)
	}

	var one int
	err = r.db.QueryRowContext(ctx, query, args...).Scan(&one)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return false, nil
	case err != nil:
		return false, fmt.Errorf("query item by url: %w", err)
	}
	return true, nil
}

// SaveItem commits one item in its own transaction and fills in its id.
// A URL that is already stored yields domain.ErrDuplicate.
func (r *Repository) SaveItem(ctx context.Context, item *domain.Item) error {
	if item == nil {
		return errors.New("save item: nil item")
	}

	query, args, err := r.builder.
		Insert("items").
		Columns(itemColumns[1:]...).
		Values(
			item.Title, item.URL, item.Content, item.Summary, item.Author,
			item.SourceID, item.SourceName, toMillis(item.PublishedAt), toMillis(item.IngestedAt),
			item.CategoryName, item.CategoryColor, item.RelevancyScore,
		).
		Suffix("ON CONFLICT (url) DO NOTHING RETURNING id").
		ToSql()
	if err != nil {
		return fmt.Errorf("build item insert: %w", err)
	}

	return retryOnBusy(ctx, func() error {
		tx, err := r.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		defer func() { _ = tx.Rollback() }()

		var id int64
		err = tx.QueryRowContext(ctx, query, args...).Scan(&id)
		if errors.Is(err, sql.ErrNoRows) {
			return domain.ErrDuplicate
		}
		if err != nil {
			return fmt.Errorf("insert item: %w", err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit item: %w", err)
		}
		item.ID = id
		return nil
	})
}

// DeleteIngestedBefore removes items whose ingestion time is strictly before cutoff.
func (r *Repository) DeleteIngestedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	query, args, err := r.builder.
		Delete("items").
		Where(sq.Lt{"ingested_at": toMillis(cutoff)}).
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("build sweep: %w", err)
	}
	return r.execAffected(ctx, query, args...)
}

// DeleteAllItems empties the item store.
func (r *Repository) DeleteAllItems(ctx context.Context) (int64, error) {
	query, args, err := r.builder.Delete("items").ToSql()
	if err != nil {
		return 0, fmt.Errorf("build clear: %w", err)
	}
	return r.execAffected(ctx, query, args...)
}

// RecentItems returns the newest items by ingestion time.
func (r *Repository) RecentItems(ctx context.Context, limit int) ([]domain.Item, error) {
	builder := r.builder.
		Select(itemColumns...).
		From("items").
		OrderBy("ingested_at DESC", "id DESC")
	if limit > 0 {
		builder = builder.Limit(uint64(limit))
	}
	query, args, err := builder.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build items query: %w", err)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query items: %w", err)
	}
	defer rows.Close()

	var items []domain.Item
	for rows.Next() {
		var (
			it                  domain.Item
			published, ingested int64
		)
		if err := rows.Scan(
			&it.ID, &it.Title, &it.URL, &it.Content, &it.Summary, &it.Author,
			&it.SourceID, &it.SourceName, &published, &ingested,
			&it.CategoryName, &it.CategoryColor, &it.RelevancyScore,
		); err != nil {
			return nil, fmt.Errorf("scan item: %w", err)
		}
		it.PublishedAt = fromMillis(published)
		it.IngestedAt = fromMillis(ingested)
		items = append(items, it)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration: %w", err)
	}
	return items, nil
}

func (r *Repository) execAffected(ctx context.Context, query string, args ...any) (int64, error) {
	var res sql.Result
	err := retryOnBusy(ctx, func() error {
		var execErr error
		res, execErr = r.db.ExecContext(ctx, query, args...)
		return execErr
	})
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return n, nil
}

func (r *Repository) execNoResult(ctx context.Context, query string, args ...any) error {
	return retryOnBusy(ctx, func() error {
		_, err := r.db.ExecContext(ctx, query, args...)
		return err
	})
}
