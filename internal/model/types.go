package model

import (
	"encoding/json"
	"time"
)

// Principal is the authenticated identity behind one request or one
// persistent connection. ID is -1 for anonymous callers.
type Principal struct {
	ID           int64
	Login        string
	IsAuthorized bool
	Claims       []string
	Device       string
}

func Anonymous() *Principal {
	return &Principal{ID: -1}
}

// AccessRow is one flat permission row as returned by the privileged
// collaborator call. A row either grants table methods, carries a record
// criterion, denies columns, or holds a free-form pattern.
type AccessRow struct {
	ID             int64   `json:"id"`
	TableName      string  `json:"table_name"`
	IsCreatable    bool    `json:"is_creatable"`
	IsEditable     bool    `json:"is_editable"`
	IsDeletable    bool    `json:"is_deletable"`
	IsFullControl  bool    `json:"is_fullcontrol"`
	RecordCriteria *string `json:"record_criteria"`
	ColumnName     string  `json:"column_name"`
	RPCFunction    string  `json:"rpc_function"`
	Operation      string  `json:"operation"`
	Access         int     `json:"access"`
}

// RPC methods exposed uniformly by every entity.
const (
	MethodAdd         = "Add"
	MethodUpdate      = "Update"
	MethodAddOrUpdate = "AddOrUpdate"
	MethodDelete      = "Delete"
	MethodQuery       = "Query"
	MethodSelect      = "Select"
	MethodCount       = "Count"
)

// Mutating reports whether a method changes data. Used for audit and for
// echoing the request payload in the result.
func Mutating(method string) bool {
	switch method {
	case MethodAdd, MethodUpdate, MethodAddOrUpdate, MethodDelete:
		return true
	}
	return false
}

// Item is a single RPC call within a batch.
type Item struct {
	Action string           `json:"action"`
	Method string           `json:"method"`
	TID    int64            `json:"tid"`
	Data   []map[string]any `json:"data"`
	Alias  string           `json:"alias,omitempty"`

	// Malformed is set when data decoded to something other than an
	// array of records. Such items answer Bad Request without touching
	// the authorizer.
	Malformed bool `json:"-"`
	// Authorized marks an item whose filter already carries injected
	// row criteria, so re-authorizing never double-nests.
	Authorized bool `json:"-"`
	// Softened marks a Delete rewritten into a soft-delete Update.
	Softened bool `json:"-"`
}

func (it *Item) UnmarshalJSON(raw []byte) error {
	type wire struct {
		Action string          `json:"action"`
		Method string          `json:"method"`
		TID    int64           `json:"tid"`
		Data   json.RawMessage `json:"data"`
		Alias  string          `json:"alias"`
	}
	var w wire
	if err := json.Unmarshal(raw, &w); err != nil {
		return err
	}
	it.Action = w.Action
	it.Method = w.Method
	it.TID = w.TID
	it.Alias = w.Alias
	if len(w.Data) == 0 || string(w.Data) == "null" {
		it.Malformed = true
		return nil
	}
	if err := json.Unmarshal(w.Data, &it.Data); err != nil {
		it.Malformed = true
		return nil
	}
	return nil
}

// Payload returns the first record of the item, creating it when absent.
func (it *Item) Payload() map[string]any {
	if len(it.Data) == 0 {
		it.Data = []map[string]any{{}}
	}
	if it.Data[0] == nil {
		it.Data[0] = map[string]any{}
	}
	return it.Data[0]
}

// Meta is the success envelope shared by every response.
type Meta struct {
	Success bool   `json:"success"`
	Msg     string `json:"msg,omitempty"`
}

// Body holds the records of a response.
type Body struct {
	Records any `json:"records"`
	Total   int `json:"total"`
}

// Result is the answer to one Item. Results carry the same tid so clients
// can correlate out of a batch.
type Result struct {
	TID           int64  `json:"tid"`
	Action        string `json:"action"`
	Method        string `json:"method"`
	Type          string `json:"type"`
	Code          int    `json:"code,omitempty"`
	Meta          Meta   `json:"meta"`
	Result        Body   `json:"result"`
	Host          string `json:"host,omitempty"`
	RPCTime       int64  `json:"rpcTime,omitempty"`
	AuthorizeTime int64  `json:"authorizeTime,omitempty"`
}

// AuditRecord is one buffered observability event, flushed in batches.
type AuditRecord struct {
	UserID  int64     `json:"fn_user"`
	Date    time.Time `json:"d_date"`
	Data    string    `json:"c_data"`
	Type    string    `json:"c_type"`
	AppName string    `json:"c_app_name"`
}

// UserRecord is the stored user row consulted during authentication.
type UserRecord struct {
	ID           int64
	Login        string
	PasswordHash string
	Claims       string
	Disabled     bool
}
