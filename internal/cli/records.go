package cli

import (
	"errors"
	"fmt"
	"maps"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/replisync/internal/ir"
	"github.com/roach88/replisync/internal/repo"
	"github.com/roach88/replisync/internal/store"
)

// ReplicaOptions holds the flags shared by single-replica commands.
type ReplicaOptions struct {
	*RootOptions
	Database string
	Article  uint32
}

func (o *ReplicaOptions) bind(cmd *cobra.Command) {
	cmd.Flags().StringVar(&o.Database, "db", "", "path to the replica's SQLite database (required)")
	cmd.Flags().Uint32Var(&o.Article, "article", 1, "article (record collection) id")
	_ = cmd.MarkFlagRequired("db")
}

// InitOptions holds flags for the init command.
type InitOptions struct {
	*RootOptions
	Database  string
	ReplicaID int32
	Name      string
}

// InitResult reports an initialized replica.
type InitResult struct {
	Database string `json:"database"`
	Replica  int32  `json:"replica_id"`
	Name     string `json:"name"`
}

// Text implements Texter.
func (r InitResult) Text() string {
	return fmt.Sprintf("initialized replica %s (%d) at %s", r.Name, r.Replica, r.Database)
}

// NewInitCommand creates the init command.
func NewInitCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &InitOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create a replica database",
		Long: `Create a replica database, or verify an existing one.

Running init again with the same identity is a no-op; a different
identity is rejected.

Example:
  replisync init --db ./laptop.db --replica-id 2 --name laptop`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.ReplicaID <= 0 {
				return NewExitError(ExitCommandError, "--replica-id must be positive").WithCode(ErrCodeInvalidInput)
			}
			if opts.Name == "" {
				opts.Name = fmt.Sprintf("replica-%d", opts.ReplicaID)
			}

			st, err := store.Open(opts.Database)
			if err != nil {
				return WrapExitError(ExitCommandError, "failed to open database", err)
			}
			defer st.Close()

			r := ir.Replica{ID: ir.ReplicaID(opts.ReplicaID), Name: opts.Name}
			if err := st.SetIdentity(cmd.Context(), r); err != nil {
				return WrapExitError(ExitCommandError, "failed to initialize replica", err)
			}
			return opts.formatter(cmd).Success(InitResult{Database: opts.Database, Replica: opts.ReplicaID, Name: opts.Name})
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to the replica's SQLite database (required)")
	cmd.Flags().Int32Var(&opts.ReplicaID, "replica-id", 0, "replica id, unique among synced replicas (required)")
	cmd.Flags().StringVar(&opts.Name, "name", "", "human-readable replica name")
	_ = cmd.MarkFlagRequired("db")
	_ = cmd.MarkFlagRequired("replica-id")

	return cmd
}

// PutOptions holds flags for the put command.
type PutOptions struct {
	ReplicaOptions
	Key string
}

// PutResult reports a written record.
type PutResult struct {
	Key    string    `json:"key"`
	Action string    `json:"action"`
	Fields ir.Fields `json:"fields"`
}

var pastTense = map[string]string{"insert": "inserted", "update": "updated", "delete": "deleted"}

// Text implements Texter.
func (r PutResult) Text() string {
	return fmt.Sprintf("%s %s", pastTense[r.Action], r.Key)
}

// NewPutCommand creates the put command.
func NewPutCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &PutOptions{ReplicaOptions: ReplicaOptions{RootOptions: rootOpts}}

	cmd := &cobra.Command{
		Use:   "put [field=value...]",
		Short: "Insert or update a record",
		Long: `Insert a record, or update the given fields of an existing one.

Values that parse as integers or booleans are stored as such; wrap a value
in double quotes to force a string. Without --key a new key is minted for
this replica.

Examples:
  replisync put --db ./laptop.db title="Buy milk" done=false
  replisync put --db ./laptop.db --key 00000002-0000-0001-0000-000000000001 done=true`,
		Args:          cobra.MinimumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPut(cmd, opts, args)
		},
	}

	opts.bind(cmd)
	cmd.Flags().StringVar(&opts.Key, "key", "", "record key (default: mint a new one)")
	return cmd
}

func runPut(cmd *cobra.Command, opts *PutOptions, args []string) error {
	fields, err := parseFieldArgs(args)
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid field", err).WithCode(ErrCodeInvalidInput)
	}

	ctx := cmd.Context()
	h, err := openReplica(ctx, opts.Database, ir.ArticleID(opts.Article))
	if err != nil {
		return err
	}
	defer h.Close()

	var key ir.Key
	if opts.Key == "" {
		if key, err = h.provider.NewKey(ctx); err != nil {
			return WrapExitError(ExitFailure, "failed to mint key", err)
		}
	} else if key, err = ir.ParseKey(opts.Key); err != nil {
		return WrapExitError(ExitCommandError, "invalid --key", err).WithCode(ErrCodeInvalidInput)
	}

	records := h.provider.Repository()
	current, found, err := records.Get(ctx, key)
	if err != nil {
		return WrapExitError(ExitFailure, "failed to read record", err)
	}

	action := ir.ActionInsert
	rec := ir.Record{Key: key, Fields: fields}
	if found {
		action = ir.ActionUpdate
		rec = current.Clone()
		if rec.Fields == nil {
			rec.Fields = make(ir.Fields, len(fields))
		}
		maps.Copy(rec.Fields, fields)
		err = records.Update(ctx, rec)
	} else {
		err = records.Insert(ctx, rec)
	}
	if err != nil {
		return syncExitError("failed to write record", err)
	}

	return opts.formatter(cmd).Success(PutResult{Key: key.String(), Action: action.String(), Fields: rec.Fields})
}

// parseFieldArgs parses name=value arguments.
func parseFieldArgs(args []string) (ir.Fields, error) {
	fields := make(ir.Fields, len(args))
	for _, arg := range args {
		name, raw, ok := strings.Cut(arg, "=")
		if !ok || name == "" {
			return nil, fmt.Errorf("%q: expected name=value", arg)
		}
		fields[name] = parseValue(raw)
	}
	return fields, nil
}

func parseValue(raw string) ir.Value {
	if len(raw) >= 2 && strings.HasPrefix(raw, `"`) && strings.HasSuffix(raw, `"`) {
		return ir.String(raw[1 : len(raw)-1])
	}
	if n, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return ir.Int(n)
	}
	if b, err := strconv.ParseBool(raw); err == nil && (raw == "true" || raw == "false") {
		return ir.Bool(b)
	}
	return ir.String(raw)
}

// DeleteOptions holds flags for the delete command.
type DeleteOptions struct {
	ReplicaOptions
	Key string
}

// NewDeleteCommand creates the delete command.
func NewDeleteCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &DeleteOptions{ReplicaOptions: ReplicaOptions{RootOptions: rootOpts}}

	cmd := &cobra.Command{
		Use:           "delete",
		Short:         "Delete a record",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			key, err := ir.ParseKey(opts.Key)
			if err != nil {
				return WrapExitError(ExitCommandError, "invalid --key", err).WithCode(ErrCodeInvalidInput)
			}

			ctx := cmd.Context()
			h, err := openReplica(ctx, opts.Database, ir.ArticleID(opts.Article))
			if err != nil {
				return err
			}
			defer h.Close()

			if err := h.provider.Repository().Delete(ctx, key); err != nil {
				if errors.Is(err, repo.ErrNotFound) {
					return WrapExitError(ExitFailure, "record not found", err).WithCode(ErrCodeNotFound)
				}
				return syncExitError("failed to delete record", err)
			}
			return opts.formatter(cmd).Success(PutResult{Key: key.String(), Action: ir.ActionDelete.String(), Fields: ir.Fields{}})
		},
	}

	opts.bind(cmd)
	cmd.Flags().StringVar(&opts.Key, "key", "", "record key (required)")
	_ = cmd.MarkFlagRequired("key")
	return cmd
}

// RecordView is one record in list output.
type RecordView struct {
	Key    string    `json:"key"`
	Fields ir.Fields `json:"fields"`
}

// ListResult holds the records of one article.
type ListResult struct {
	Replica string       `json:"replica"`
	Records []RecordView `json:"records"`
}

// Text implements Texter.
func (r ListResult) Text() string {
	if len(r.Records) == 0 {
		return "no records"
	}
	var b strings.Builder
	for i, rec := range r.Records {
		if i > 0 {
			b.WriteByte('\n')
		}
		fields, err := rec.Fields.MarshalJSON()
		if err != nil {
			fields = []byte(fmt.Sprint(rec.Fields))
		}
		fmt.Fprintf(&b, "%s %s", rec.Key, fields)
	}
	return b.String()
}

// NewListCommand creates the list command.
func NewListCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ReplicaOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:           "list",
		Short:         "List the records of an article",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			h, err := openReplica(ctx, opts.Database, ir.ArticleID(opts.Article))
			if err != nil {
				return err
			}
			defer h.Close()

			all, err := h.provider.Repository().All(ctx)
			if err != nil {
				return syncExitError("failed to list records", err)
			}
			result := ListResult{Replica: h.provider.Replica().String(), Records: make([]RecordView, len(all))}
			for i, r := range all {
				result.Records[i] = RecordView{Key: r.Key.String(), Fields: r.Fields}
			}
			return opts.formatter(cmd).Success(result)
		},
	}

	opts.bind(cmd)
	return cmd
}
