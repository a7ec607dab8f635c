package postgres

import (
	"fmt"
	"strings"

	"github.com/finanspro/dbo/internal/store"
)

const serviceColumns = `s.id, s.name, s.description, s.category_id, s.price, s.currency, s.is_active, s.is_public, s.is_privileged, s.rating, s.rating_count, s.created_at, s.updated_at`

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// queryBuilder accumulates WHERE conditions with positional arguments.
type queryBuilder struct {
	conds []string
	args  []any
}

func (b *queryBuilder) arg(v any) string {
	b.args = append(b.args, v)
	return fmt.Sprintf("$%d", len(b.args))
}

func (b *queryBuilder) where(cond string) {
	b.conds = append(b.conds, cond)
}

func (b *queryBuilder) clause() string {
	if len(b.conds) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(b.conds, " AND ")
}

func buildCatalogQuery(f store.CatalogFilter) (string, []any) {
	b := &queryBuilder{}
	b.where("s.is_active")

	if f.CategoryID != nil {
		b.where("s.category_id = " + b.arg(*f.CategoryID))
	}

	switch f.PriceBand {
	case store.PriceFree:
		b.where("s.price = 0")
	case store.PriceLow:
		b.where("s.price > 0 AND s.price <= 1000")
	case store.PriceMedium:
		b.where("s.price > 1000 AND s.price <= 5000")
	case store.PriceHigh:
		b.where("s.price > 5000")
	}

	if !f.IncludePrivileged {
		b.where("NOT s.is_privileged")
	}
	if !f.IncludeInternal {
		b.where("s.is_public AND c.is_public")
	}

	if search := strings.TrimSpace(f.Search); search != "" {
		p := b.arg("%" + likeEscaper.Replace(search) + "%")
		b.where("(s.name ILIKE " + p + " OR s.description ILIKE " + p + ")")
	}

	var order string
	switch f.Sort {
	case store.SortPriceAsc:
		order = "s.price ASC, LOWER(s.name)"
	case store.SortPriceDesc:
		order = "s.price DESC, LOWER(s.name)"
	case store.SortPopularity:
		order = "s.rating_count DESC, LOWER(s.name)"
	default:
		order = "LOWER(s.name)"
	}

	sql := "SELECT " + serviceColumns +
		" FROM services s JOIN service_categories c ON c.id = s.category_id" +
		b.clause() +
		" ORDER BY " + order
	return sql, b.args
}

const requestColumns = `id, client_id, name, description, price, status, reviewed_by, reviewed_at, service_id, created_at, updated_at`

func buildRequestQuery(f store.RequestFilter) (string, []any) {
	b := &queryBuilder{}

	if f.ClientID != nil {
		b.where("client_id = " + b.arg(*f.ClientID))
	}
	if f.Status != "" {
		b.where("status = " + b.arg(string(f.Status)))
	}
	if f.ExcludeNameContaining != "" {
		b.where("name NOT ILIKE " + b.arg("%"+likeEscaper.Replace(f.ExcludeNameContaining)+"%"))
	}
	if f.ExcludeNamePrefix != "" {
		b.where("name NOT ILIKE " + b.arg(likeEscaper.Replace(f.ExcludeNamePrefix)+"%"))
	}

	sql := "SELECT " + requestColumns + " FROM service_requests" + b.clause() + " ORDER BY created_at ASC, id"
	return sql, b.args
}
