package surgo

import (
	"context"
	"fmt"
	"time"

	"github.com/steveyegge/surgo/codec"
	"github.com/steveyegge/surgo/internal/cache"
	"github.com/steveyegge/surgo/internal/errs"
	"github.com/steveyegge/surgo/internal/ident"
	"github.com/steveyegge/surgo/internal/proto"
	"github.com/steveyegge/surgo/internal/transport"
)

// Ping round-trips the ping method.
func (db *DB) Ping(ctx context.Context) error {
	_, err := db.send(ctx, proto.MethodPing, nil)
	return err
}

// Version returns the server version string.
func (db *DB) Version(ctx context.Context) (string, error) {
	v, err := db.send(ctx, proto.MethodVersion, nil)
	if err != nil {
		return "", err
	}
	s, ok := v.Str()
	if !ok {
		// Some server builds wrap the version in an object.
		if obj, isObj := v.Object(); isObj {
			if s, ok = obj["version"].Str(); ok {
				return s, nil
			}
		}
		return "", &errs.InvalidResponseError{Msg: "version result is " + v.Kind().String() + ", want string"}
	}
	return s, nil
}

// Use selects the namespace and database for subsequent operations,
// storing the pair locally for session restore.
func (db *DB) Use(ctx context.Context, namespace, database string) error {
	if namespace == "" || database == "" {
		return &errs.ValidationError{Msg: "namespace and database must be non-empty"}
	}
	_, err := db.send(ctx, proto.MethodUse, []codec.Value{codec.String(namespace), codec.String(database)})
	if err != nil {
		return err
	}
	db.mu.Lock()
	db.namespace, db.database = namespace, database
	db.mu.Unlock()
	db.syncHeaders()
	return nil
}

// Signin authenticates with credentials and stores the returned token
// for session restore. A non-string result leaves the session
// unauthenticated.
func (db *DB) Signin(ctx context.Context, creds Credentials) (string, error) {
	return db.authCall(ctx, proto.MethodSignin, creds)
}

// Signup registers record-access credentials and stores the returned
// token.
func (db *DB) Signup(ctx context.Context, creds Credentials) (string, error) {
	return db.authCall(ctx, proto.MethodSignup, creds)
}

func (db *DB) authCall(ctx context.Context, method string, creds Credentials) (string, error) {
	payload, err := creds.credentialsValue()
	if err != nil {
		return "", err
	}
	v, err := db.send(ctx, method, []codec.Value{payload})
	if err != nil {
		return "", err
	}
	token, ok := v.Str()
	if !ok || token == "" {
		return "", &errs.AuthenticationError{Msg: fmt.Sprintf("%s result is %s, want token string", method, v.Kind())}
	}
	db.setToken(token)
	return token, nil
}

// Authenticate resumes a session from a previously issued token.
func (db *DB) Authenticate(ctx context.Context, token string) error {
	if _, err := db.send(ctx, proto.MethodAuthenticate, []codec.Value{codec.String(token)}); err != nil {
		return err
	}
	db.setToken(token)
	return nil
}

// Invalidate ends the server-side session and clears the stored token.
func (db *DB) Invalidate(ctx context.Context) error {
	if _, err := db.send(ctx, proto.MethodInvalidate, nil); err != nil {
		return err
	}
	db.setToken("")
	return nil
}

// Info returns the current session's record, decoded into out when out
// is non-nil.
func (db *DB) Info(ctx context.Context, out any) error {
	v, err := db.send(ctx, proto.MethodInfo, nil)
	if err != nil {
		return err
	}
	return decodeInto(v, out)
}

// Let binds a connection-scoped variable. Only the persistent
// transport holds connection state; on the stateless transport this is
// an UnsupportedOperationError.
func (db *DB) Let(ctx context.Context, name string, value any) error {
	if !db.transport.Features().Variables {
		return &errs.UnsupportedOperationError{Msg: "let requires the persistent transport"}
	}
	if err := ident.Validate(name); err != nil {
		return &errs.ValidationError{Msg: "variable name: " + err.Error()}
	}
	v, err := codec.Encode(value)
	if err != nil {
		return err
	}
	_, err = db.send(ctx, proto.MethodLet, []codec.Value{codec.String(name), v})
	return err
}

// Unset removes a connection-scoped variable.
func (db *DB) Unset(ctx context.Context, name string) error {
	if !db.transport.Features().Variables {
		return &errs.UnsupportedOperationError{Msg: "unset requires the persistent transport"}
	}
	if err := ident.Validate(name); err != nil {
		return &errs.ValidationError{Msg: "variable name: " + err.Error()}
	}
	_, err := db.send(ctx, proto.MethodUnset, []codec.Value{codec.String(name)})
	return err
}

// Query executes raw query text with optional variables. With no
// variables the params are [sql] alone. Query results are not cached:
// the dependent-table set of arbitrary query text cannot be inferred
// safely, so only QueryCached (with an explicit dependency set)
// populates the cache.
func (db *DB) Query(ctx context.Context, sql string, vars map[string]any) (QueryResults, error) {
	if sql == "" {
		return nil, &errs.InvalidQueryError{Msg: "query text is empty"}
	}
	params, err := queryParams(sql, vars)
	if err != nil {
		return nil, err
	}
	v, err := db.send(ctx, proto.MethodQuery, params)
	if err != nil {
		return nil, err
	}
	return parseQueryResults(v)
}

// QueryCached is Query with read-through caching. tables is the
// explicit dependency set used for invalidation; ttl of zero selects
// the policy default.
func (db *DB) QueryCached(ctx context.Context, sql string, vars map[string]any, tables []string, ttl time.Duration) (QueryResults, error) {
	if sql == "" {
		return nil, &errs.InvalidQueryError{Msg: "query text is empty"}
	}
	if len(tables) == 0 {
		return nil, &errs.ValidationError{Msg: "cached queries require an explicit dependency table set"}
	}
	for _, t := range tables {
		if err := ident.Validate(t); err != nil {
			return nil, &errs.ValidationError{Msg: "dependency table: " + err.Error()}
		}
	}
	params, err := queryParams(sql, vars)
	if err != nil {
		return nil, err
	}
	key := cache.MakeKey(proto.MethodQuery, sql, params)
	v, err := db.cache.Do(ctx, key, tables, ttl, func(ctx context.Context) (codec.Value, error) {
		return db.send(ctx, proto.MethodQuery, params)
	})
	if err != nil {
		return nil, err
	}
	return parseQueryResults(v)
}

func queryParams(sql string, vars map[string]any) ([]codec.Value, error) {
	if len(vars) == 0 {
		return []codec.Value{codec.String(sql)}, nil
	}
	obj := make(map[string]codec.Value, len(vars))
	for k, raw := range vars {
		v, err := codec.Encode(raw)
		if err != nil {
			return nil, err
		}
		obj[k] = v
	}
	return []codec.Value{codec.String(sql), codec.Object(obj)}, nil
}

// Select reads a table or a single record, decoding the result into
// out when out is non-nil. Selects are cached with the target table as
// the sole dependency.
func (db *DB) Select(ctx context.Context, target string, out any) error {
	tv, table, err := resolveTarget(target)
	if err != nil {
		return err
	}
	params := []codec.Value{tv}
	key := cache.MakeKey(proto.MethodSelect, target, nil)
	v, err := db.cache.Do(ctx, key, []string{table}, 0, func(ctx context.Context) (codec.Value, error) {
		return db.send(ctx, proto.MethodSelect, params)
	})
	if err != nil {
		return err
	}
	return decodeInto(v, out)
}

// Create inserts a record. A nil data payload creates an empty record.
func (db *DB) Create(ctx context.Context, target string, data, out any) error {
	return db.writeOp(ctx, proto.MethodCreate, target, data, out)
}

// Update replaces the content of a record or a whole table.
func (db *DB) Update(ctx context.Context, target string, data, out any) error {
	return db.writeOp(ctx, proto.MethodUpdate, target, data, out)
}

// Upsert replaces a record, creating it when absent.
func (db *DB) Upsert(ctx context.Context, target string, data, out any) error {
	return db.writeOp(ctx, proto.MethodUpsert, target, data, out)
}

// Merge folds data into existing records.
func (db *DB) Merge(ctx context.Context, target string, data, out any) error {
	return db.writeOp(ctx, proto.MethodMerge, target, data, out)
}

// Patch applies JSON-patch operations to records.
func (db *DB) Patch(ctx context.Context, target string, patches, out any) error {
	return db.writeOp(ctx, proto.MethodPatch, target, patches, out)
}

// Insert bulk-inserts one or more records into a table.
func (db *DB) Insert(ctx context.Context, table string, data, out any) error {
	if err := ident.Validate(table); err != nil {
		return &errs.ValidationError{Msg: "table: " + err.Error()}
	}
	return db.writeOp(ctx, proto.MethodInsert, table, data, out)
}

// Delete removes a record or every record of a table. The server's
// result (the deleted rows) is discarded.
func (db *DB) Delete(ctx context.Context, target string) error {
	return db.writeOp(ctx, proto.MethodDelete, target, nil, nil)
}

// Relate creates a graph edge between two records through the edge
// table, optionally carrying data on the edge. The edge table is the
// invalidated dependency.
func (db *DB) Relate(ctx context.Context, from, edge, to string, data, out any) error {
	fromID, err := codec.ParseRecordID(from)
	if err != nil {
		return err
	}
	toID, err := codec.ParseRecordID(to)
	if err != nil {
		return err
	}
	if err := ident.Validate(edge); err != nil {
		return &errs.ValidationError{Msg: "edge table: " + err.Error()}
	}
	params := []codec.Value{codec.Record(fromID), codec.String(edge), codec.Record(toID)}
	if data != nil {
		dv, err := codec.Encode(data)
		if err != nil {
			return err
		}
		params = append(params, dv)
	}
	v, err := db.send(ctx, proto.MethodRelate, params)
	if err != nil {
		return err
	}
	db.cache.Invalidate(ctx, edge)
	return decodeInto(v, out)
}

// InsertRelation bulk-inserts edge records into an edge table.
func (db *DB) InsertRelation(ctx context.Context, table string, data, out any) error {
	if err := ident.Validate(table); err != nil {
		return &errs.ValidationError{Msg: "edge table: " + err.Error()}
	}
	return db.writeOp(ctx, proto.MethodInsert, table, data, out)
}

// writeOp is the shared path for data-mutating methods: params are
// [target] or [target, data], and the affected table is invalidated
// after a successful call.
func (db *DB) writeOp(ctx context.Context, method, target string, data, out any) error {
	tv, table, err := resolveTarget(target)
	if err != nil {
		return err
	}
	params := []codec.Value{tv}
	if data != nil {
		dv, err := codec.Encode(data)
		if err != nil {
			return err
		}
		params = append(params, dv)
	}
	v, err := db.send(ctx, method, params)
	if err != nil {
		return err
	}
	db.cache.Invalidate(ctx, table)
	return decodeInto(v, out)
}

// resolveTarget interprets a target string as either a record id
// ("table:id") or a table name, returning the wire value to send and
// the table it affects.
func resolveTarget(target string) (codec.Value, string, error) {
	if target == "" {
		return codec.Value{}, "", &errs.ValidationError{Msg: "target is empty"}
	}
	if codec.IsRecordIDText(target) {
		rid, err := codec.ParseRecordID(target)
		if err != nil {
			return codec.Value{}, "", err
		}
		if err := rid.Validate(); err != nil {
			return codec.Value{}, "", err
		}
		return codec.Record(rid), rid.Table, nil
	}
	if err := ident.Validate(target); err != nil {
		return codec.Value{}, "", &errs.ValidationError{Msg: "target: " + err.Error()}
	}
	return codec.String(target), target, nil
}

func decodeInto(v codec.Value, out any) error {
	if out == nil {
		return nil
	}
	return codec.Decode(v, out)
}

// setToken stores (or clears) the auth token and mirrors it into
// transports that attach session state per exchange.
func (db *DB) setToken(token string) {
	db.mu.Lock()
	db.token = token
	db.mu.Unlock()
	db.syncHeaders()
}

func (db *DB) syncHeaders() {
	h, ok := db.transport.(transport.SessionHeaders)
	if !ok {
		return
	}
	db.mu.Lock()
	token, ns, dbname := db.token, db.namespace, db.database
	db.mu.Unlock()
	h.SetToken(token)
	h.SetNamespace(ns, dbname)
}
