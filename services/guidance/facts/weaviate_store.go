// Copyright (C) 2025 Khanya AI (info@khanya.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package facts

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/filters"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/graphql"
	"github.com/weaviate/weaviate/entities/models"
	"go.opentelemetry.io/otel"
)

var tracer = otel.Tracer("khanya.guidance.facts")

// FactClassName is the Weaviate class the ingestion pipeline writes facts to.
const FactClassName = "GuidanceFact"

// factQueryResponse is the shape of a GraphQL Get on the fact class.
type factQueryResponse struct {
	Get struct {
		GuidanceFact []struct {
			Kind    string  `json:"kind"`
			Subject string  `json:"subject"`
			Value   float64 `json:"value"`
			Date    string  `json:"date"`
		} `json:"GuidanceFact"`
	} `json:"Get"`
}

// WeaviateStore reads facts from the shared Weaviate instance the knowledge
// ingestion pipeline populates. Query failures are reported as
// ErrUnavailable so the verification pipeline can degrade gracefully.
type WeaviateStore struct {
	client *weaviate.Client
}

// NewWeaviateStore connects to the Weaviate instance at host (e.g.
// "localhost:8080").
func NewWeaviateStore(host string) (*WeaviateStore, error) {
	client, err := weaviate.NewClient(weaviate.Config{
		Host:   host,
		Scheme: "http",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create weaviate client for %s: %w", host, err)
	}
	return &WeaviateStore{client: client}, nil
}

// Lookup implements Store with a filtered GraphQL Get.
func (w *WeaviateStore) Lookup(ctx context.Context, kind AssertionKind, subject string) (Fact, bool, error) {
	ctx, span := tracer.Start(ctx, "WeaviateStore.Lookup")
	defer span.End()

	where := filters.Where().WithOperator(filters.And).WithOperands([]*filters.WhereBuilder{
		filters.Where().
			WithPath([]string{"kind"}).
			WithOperator(filters.Equal).
			WithValueString(string(kind)),
		filters.Where().
			WithPath([]string{"subject"}).
			WithOperator(filters.Equal).
			WithValueString(NormalizeSubject(subject)),
	})

	fields := []graphql.Field{
		{Name: "kind"},
		{Name: "subject"},
		{Name: "value"},
		{Name: "date"},
	}

	resp, err := w.client.GraphQL().Get().
		WithClassName(FactClassName).
		WithWhere(where).
		WithFields(fields...).
		WithLimit(1).
		Do(ctx)
	if err != nil {
		return Fact{}, false, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	parsed, err := parseGraphQLResponse[factQueryResponse](resp)
	if err != nil {
		return Fact{}, false, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if len(parsed.Get.GuidanceFact) == 0 {
		return Fact{}, false, nil
	}

	row := parsed.Get.GuidanceFact[0]
	fact := Fact{
		Kind:    AssertionKind(row.Kind),
		Subject: row.Subject,
		Value:   row.Value,
	}
	if row.Date != "" {
		if ts, err := time.Parse(time.RFC3339, row.Date); err == nil {
			fact.Date = &ts
		}
	}
	return fact, true, nil
}

// parseGraphQLResponse converts Weaviate's dynamic response payload into a
// typed struct via a marshal/unmarshal round trip.
func parseGraphQLResponse[T any](resp *models.GraphQLResponse) (*T, error) {
	if resp == nil {
		return nil, fmt.Errorf("nil GraphQL response")
	}
	if len(resp.Errors) > 0 {
		return nil, fmt.Errorf("GraphQL error: %s", resp.Errors[0].Message)
	}

	respBytes, err := json.Marshal(resp.Data)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal GraphQL response data: %w", err)
	}

	var result T
	if err := json.Unmarshal(respBytes, &result); err != nil {
		return nil, fmt.Errorf("failed to unmarshal into target type: %w", err)
	}
	return &result, nil
}
