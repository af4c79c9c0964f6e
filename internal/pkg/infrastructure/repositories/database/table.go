package database

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/diwise/facility-mgmt/pkg/types"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var ErrAlreadyExists = fmt.Errorf("already exists")

// Query describes a list request against a Table.
type Query struct {
	Search        string
	SearchColumns []string
	// SearchNumeric columns match the search term exactly when it is an integer.
	SearchNumeric []string
	// SearchIn adds column IN values alternatives to the search.
	SearchIn map[string][]any
	Joins         []string
	Filters       map[string]any
	Order         string
	Preload       []string
	Offset        int
	Limit         int
}

// Table is a typed store for a single entity, used by the admin resources.
type Table[M any] struct {
	db   *gorm.DB
	name string
}

func NewTable[M any](db *gorm.DB) (Table[M], error) {
	stmt := &gorm.Statement{DB: db}
	if err := stmt.Parse(new(M)); err != nil {
		return Table[M]{}, err
	}

	return Table[M]{db: db, name: stmt.Schema.Table}, nil
}

func (t Table[M]) Name() string {
	return t.name
}

func (t Table[M]) query(ctx context.Context, q Query) *gorm.DB {
	db := t.db.WithContext(ctx).Model(new(M))

	for _, j := range q.Joins {
		db = db.Joins(j)
	}

	if term := strings.TrimSpace(q.Search); term != "" && len(q.SearchColumns) > 0 {
		pattern := "%" + strings.ToLower(term) + "%"
		conditions := make([]string, 0, len(q.SearchColumns))
		args := make([]any, 0, len(q.SearchColumns))
		for _, col := range q.SearchColumns {
			conditions = append(conditions, fmt.Sprintf("LOWER(%s) LIKE ?", col))
			args = append(args, pattern)
		}
		for col, values := range q.SearchIn {
			if len(values) > 0 {
				conditions = append(conditions, fmt.Sprintf("%s IN ?", col))
				args = append(args, values)
			}
		}
		if n, err := strconv.Atoi(term); err == nil {
			for _, col := range q.SearchNumeric {
				conditions = append(conditions, fmt.Sprintf("%s = ?", col))
				args = append(args, n)
			}
		}
		db = db.Where("("+strings.Join(conditions, " OR ")+")", args...)
	}

	for col, value := range q.Filters {
		db = db.Where(fmt.Sprintf("%s = ?", col), value)
	}

	return db
}

func (t Table[M]) Find(ctx context.Context, q Query) (types.Collection[M], error) {
	var total int64
	if err := t.query(ctx, q).Count(&total).Error; err != nil {
		return types.Collection[M]{}, err
	}

	db := t.query(ctx, q).Select(t.name + ".*")
	for _, p := range q.Preload {
		db = db.Preload(p)
	}

	order := q.Order
	if order == "" {
		order = t.name + ".id"
	}
	db = db.Order(order)

	if q.Offset > 0 {
		db = db.Offset(q.Offset)
	}
	if q.Limit > 0 {
		db = db.Limit(q.Limit)
	}

	rows := []M{}
	if err := db.Find(&rows).Error; err != nil {
		return types.Collection[M]{}, err
	}

	return types.Collection[M]{
		Data:       rows,
		Count:      uint64(len(rows)),
		Offset:     uint64(q.Offset),
		Limit:      uint64(q.Limit),
		TotalCount: uint64(total),
	}, nil
}

func (t Table[M]) Get(ctx context.Context, id uint, preload ...string) (M, error) {
	var m M

	db := t.db.WithContext(ctx)
	for _, p := range preload {
		db = db.Preload(p)
	}

	err := db.First(&m, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return m, ErrNotFound
	}

	return m, err
}

// GetMany returns the rows with the given ids, ordered by id.
func (t Table[M]) GetMany(ctx context.Context, ids ...uint) ([]M, error) {
	rows := []M{}
	if len(ids) == 0 {
		return rows, nil
	}

	err := t.db.WithContext(ctx).Where("id IN ?", ids).Order("id").Find(&rows).Error
	return rows, err
}

// Taken reports whether another row than exceptID already uses value in column.
func (t Table[M]) Taken(ctx context.Context, column string, value any, exceptID uint) (bool, error) {
	var count int64

	db := t.db.WithContext(ctx).Model(new(M)).Where(fmt.Sprintf("%s = ?", column), value)
	if exceptID != 0 {
		db = db.Where("id <> ?", exceptID)
	}

	err := db.Count(&count).Error
	return count > 0, err
}

func (t Table[M]) Save(ctx context.Context, m *M) error {
	return t.db.WithContext(ctx).Omit(clause.Associations).Save(m).Error
}

// Delete removes the rows with the given ids and returns the number of rows deleted.
func (t Table[M]) Delete(ctx context.Context, ids ...uint) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}

	result := t.db.WithContext(ctx).Delete(new(M), ids)
	return result.RowsAffected, result.Error
}
