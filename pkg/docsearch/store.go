package docsearch

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bluefishs/CK-Missive-sub000/pkg/common"

	"github.com/jackc/pgx/v5"
)

// GetDocument loads one document by internal ID.
func GetDocument(ctx context.Context, conn Conn, documentID int64) (*common.Document, error) {
	var doc common.Document
	err := conn.QueryRow(ctx, `
		SELECT id, public_id, doc_number, subject, body, doc_type, category,
		       sender, receiver, status, contract_case, doc_date
		FROM documents
		WHERE id = $1`,
		documentID,
	).Scan(
		&doc.ID, &doc.PublicID, &doc.DocNumber, &doc.Subject, &doc.Body,
		&doc.DocType, &doc.Category, &doc.Sender, &doc.Receiver,
		&doc.Status, &doc.ContractCase, &doc.DocDate,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to load document %d: %w", documentID, err)
	}
	return &doc, nil
}

// FindSimilar returns documents closest to the given document's embedding,
// excluding the document itself. Documents without an embedding cannot be
// compared and yield an empty result.
func FindSimilar(ctx context.Context, conn Conn, documentID int64, limit int) ([]common.Document, error) {
	if limit <= 0 {
		limit = defaultLimit
	}
	if limit > maxLimit {
		limit = maxLimit
	}

	rows, err := conn.Query(ctx, `
		SELECT d.id, d.public_id, d.doc_number, d.subject, d.body, d.doc_type,
		       d.category, d.sender, d.receiver, d.status, d.contract_case,
		       d.doc_date,
		       1 - (d.embedding <=> src.embedding) AS score
		FROM documents d,
		     (SELECT embedding FROM documents WHERE id = $1 AND embedding IS NOT NULL) src
		WHERE d.id <> $1
		  AND d.embedding IS NOT NULL
		ORDER BY d.embedding <=> src.embedding
		LIMIT $2`,
		documentID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to find similar documents: %w", err)
	}
	defer rows.Close()

	var docs []common.Document
	for rows.Next() {
		var doc common.Document
		if err := rows.Scan(
			&doc.ID, &doc.PublicID, &doc.DocNumber, &doc.Subject, &doc.Body,
			&doc.DocType, &doc.Category, &doc.Sender, &doc.Receiver,
			&doc.Status, &doc.ContractCase, &doc.DocDate, &doc.Score,
		); err != nil {
			return nil, fmt.Errorf("failed to scan similar document row: %w", err)
		}
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}

// DispatchFilters narrows a dispatch-order search. Zero values are ignored.
type DispatchFilters struct {
	Query  string
	Agency string
	Year   int
	Status string
	Limit  int
}

// SearchDispatchOrders serves the agent's dispatch-order tool: keyword,
// agency, and year filtered rows from the works-bureau subsystem.
func SearchDispatchOrders(ctx context.Context, conn Conn, filters DispatchFilters) ([]common.DispatchOrder, error) {
	conds := make([]string, 0, 4)
	args := make([]any, 0, 4)
	add := func(value any) string {
		args = append(args, value)
		return fmt.Sprintf("$%d", len(args))
	}

	if kw := strings.TrimSpace(filters.Query); kw != "" {
		p := add("%" + kw + "%")
		conds = append(conds, fmt.Sprintf("(order_number ILIKE %s OR project_name ILIKE %s)", p, p))
	}
	if filters.Agency != "" {
		conds = append(conds, "agency ILIKE "+add("%"+filters.Agency+"%"))
	}
	if filters.Year > 0 {
		// Dispatch orders are filed under ROC years; accept either form.
		year := filters.Year
		if year < 1911 {
			year += 1911
		}
		conds = append(conds, "year = "+add(year-1911))
	}
	if filters.Status != "" {
		conds = append(conds, "status = "+add(filters.Status))
	}

	limit := filters.Limit
	if limit <= 0 {
		limit = defaultLimit
	}
	if limit > maxLimit {
		limit = maxLimit
	}

	sql := `
		SELECT id, order_number, project_name, agency, year, status,
		       approved_amount, order_date
		FROM dispatch_orders`
	if len(conds) > 0 {
		sql += "\n\t\tWHERE " + strings.Join(conds, "\n\t\t  AND ")
	}
	sql += "\n\t\tORDER BY order_date DESC, id DESC\n\t\tLIMIT " + add(limit)

	rows, err := conn.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to search dispatch orders: %w", err)
	}
	defer rows.Close()

	var orders []common.DispatchOrder
	for rows.Next() {
		var order common.DispatchOrder
		var orderDate time.Time
		if err := rows.Scan(
			&order.ID, &order.OrderNumber, &order.ProjectName, &order.Agency,
			&order.Year, &order.Status, &order.ApprovedAmount, &orderDate,
		); err != nil {
			return nil, fmt.Errorf("failed to scan dispatch order row: %w", err)
		}
		order.OrderDate = orderDate
		orders = append(orders, order)
	}
	return orders, rows.Err()
}
