package access

import (
	"testing"

	"fieldsync-server/internal/model"
)

func TestRuleOperationMatch(t *testing.T) {
	rule := NewRule(KindOperation, "FS.orders.Query(id,10)")

	if !rule.Matches("FS", "orders", "Query") {
		t.Fatalf("operation pattern should match its own call")
	}
	if rule.Matches("FS", "orders", "Update") {
		t.Fatalf("operation pattern must not match another method")
	}
	if rule.Matches("FS", "users", "Query") {
		t.Fatalf("operation pattern must not match another entity")
	}
}

func TestRuleFunctionExactMatch(t *testing.T) {
	rule := NewRule(KindFunction, "FS.orders.Query")

	if !rule.Matches("FS", "orders", "Query") {
		t.Fatalf("function pattern should match")
	}
	if rule.Matches("FS", "orders", "Add") {
		t.Fatalf("function pattern must not match another method")
	}
}

func TestRuleFunctionMethodWildcard(t *testing.T) {
	rule := NewRule(KindFunction, "FS.orders.*")

	for _, method := range []string{"Query", "Add", "Delete"} {
		if !rule.Matches("FS", "orders", method) {
			t.Fatalf("method wildcard should match %s", method)
		}
	}
	if rule.Matches("FS", "users", "Query") {
		t.Fatalf("method wildcard must stay scoped to its entity")
	}
}

func TestRuleFunctionGlob(t *testing.T) {
	rule := NewRule(KindFunction, "FS.ord*")

	if !rule.Matches("FS", "orders", "Query") {
		t.Fatalf("prefix glob should admit the entity")
	}
	if rule.Matches("FS", "users", "Query") {
		t.Fatalf("prefix glob must not admit an unrelated entity")
	}
}

func TestSnapshotRuleAdmission(t *testing.T) {
	snap := FromRows([]model.AccessRow{{RPCFunction: "FS.reports.*"}})

	if !snap.Allows("FS", "reports", "Query") {
		t.Fatalf("rule grant should admit the call without a table row")
	}
	if snap.Allows("FS", "users", "Query") {
		t.Fatalf("nothing grants users")
	}
}
