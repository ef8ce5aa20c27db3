// Command coredb is a thin demonstration CLI over the storage engine:
// it drives table creation, row insertion, scanning, index creation and
// a deferred-write transaction directly through coredb's public API,
// standing in for the SQL front end this engine deliberately omits.
package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"coredb"
)

var (
	cfgEngine *coredb.StorageEngine
	cfgLog    *coredb.Logger
)

func main() {
	root := &cobra.Command{
		Use:   "coredb",
		Short: "coredb is a single-node disk-backed storage engine demo",
	}
	root.PersistentFlags().String("db-path", "", "path to the database file (overrides config/env)")

	root.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		return openEngine(cmd.Flags())
	}
	root.PersistentPostRun = func(cmd *cobra.Command, args []string) {
		if cfgEngine != nil {
			cfgEngine.Close()
		}
		if cfgLog != nil {
			cfgLog.Sync()
		}
	}

	root.AddCommand(
		newCreateTableCmd(),
		newInsertCmd(),
		newScanCmd(),
		newCreateIndexCmd(),
		newTxnDemoCmd(),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "coredb:", err)
		os.Exit(1)
	}
}

func openEngine(flags *pflag.FlagSet) error {
	log, err := coredb.NewLogger()
	if err != nil {
		return err
	}
	cfgLog = log

	cfg, err := coredb.LoadConfig(flags)
	if err != nil {
		return err
	}
	if dbPath, _ := flags.GetString("db-path"); dbPath != "" {
		cfg.DBPath = dbPath
	}

	invocationID := uuid.New().String()
	log.Info("coredb invocation", "invocation_id", invocationID, "db_path", cfg.DBPath)

	engine, err := coredb.NewStorageEngine(cfg, log)
	if err != nil {
		return fmt.Errorf("opening storage engine: %w", err)
	}
	cfgEngine = engine
	return nil
}

func newCreateTableCmd() *cobra.Command {
	var columns []string
	cmd := &cobra.Command{
		Use:   "create-table NAME",
		Short: "create a table with the given column schema",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			schema, err := parseSchema(columns)
			if err != nil {
				return err
			}
			return cfgEngine.CreateTable(args[0], schema)
		},
	}
	cmd.Flags().StringArrayVar(&columns, "column", nil, "name:type[:pk|:unique], repeatable")
	return cmd
}

// parseSchema turns "id:int:pk" / "name:text" / "score:float:unique"
// flag values into column definitions.
func parseSchema(columns []string) ([]coredb.ColumnDefinition, error) {
	defs := make([]coredb.ColumnDefinition, 0, len(columns))
	for _, spec := range columns {
		parts := strings.Split(spec, ":")
		if len(parts) < 2 {
			return nil, fmt.Errorf("invalid --column %q, want name:type[:constraint]", spec)
		}
		var dt coredb.DataType
		switch strings.ToLower(parts[1]) {
		case "int":
			dt = coredb.IntType
		case "float":
			dt = coredb.FloatType
		case "text", "string":
			dt = coredb.TextType
		default:
			return nil, fmt.Errorf("unknown column type %q", parts[1])
		}
		def := coredb.ColumnDefinition{Name: parts[0], DataType: dt}
		if len(parts) > 2 {
			switch strings.ToLower(parts[2]) {
			case "pk", "primary_key":
				def.Constraints = append(def.Constraints, coredb.PrimaryKey)
			case "unique":
				def.Constraints = append(def.Constraints, coredb.Unique)
			}
		}
		defs = append(defs, def)
	}
	return defs, nil
}

func newInsertCmd() *cobra.Command {
	var values []string
	cmd := &cobra.Command{
		Use:   "insert TABLE",
		Short: "insert one row into TABLE",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			row, err := parseRow(values)
			if err != nil {
				return err
			}
			rid, err := cfgEngine.InsertRow(args[0], row, nil)
			if err != nil {
				return err
			}
			fmt.Printf("inserted at page=%s offset=%d\n", rid.PageID, rid.Offset)
			return nil
		},
	}
	cmd.Flags().StringArrayVar(&values, "value", nil, "col=value, repeatable")
	return cmd
}

// parseRow parses "col=value" pairs. Values that parse as a 32-bit integer
// become int32, other values that parse as a float become float32, and
// everything else is kept as a string. The choice follows the value's
// text, not the column's type: EncodeRow rejects a numeric-looking value
// given for a TEXT column and an integer given for a FLOAT column.
func parseRow(values []string) (coredb.Row, error) {
	row := make(coredb.Row, len(values))
	for _, kv := range values {
		parts := strings.SplitN(kv, "=", 2)
		if len(parts) != 2 {
			return nil, fmt.Errorf("invalid --value %q, want col=value", kv)
		}
		row[parts[0]] = coerce(parts[1])
	}
	return row, nil
}

func coerce(s string) any {
	if n, err := strconv.ParseInt(s, 10, 32); err == nil {
		return int32(n)
	}
	if f, err := strconv.ParseFloat(s, 32); err == nil {
		return float32(f)
	}
	return s
}

func newScanCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "scan TABLE",
		Short: "print every live row in TABLE",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rids, rows, err := cfgEngine.ScanTable(args[0])
			if err != nil {
				return err
			}
			for i, row := range rows {
				fmt.Printf("%s:%d\t%v\n", rids[i].PageID, rids[i].Offset, row)
			}
			return nil
		},
	}
}

func newCreateIndexCmd() *cobra.Command {
	var unique bool
	cmd := &cobra.Command{
		Use:   "create-index TABLE COLUMN",
		Short: "build a B+-tree index on TABLE.COLUMN",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			im, err := cfgEngine.GetIndexManager(args[0])
			if err != nil {
				return err
			}
			_, err = im.CreateIndex(args[1], unique)
			return err
		},
	}
	cmd.Flags().BoolVar(&unique, "unique", false, "enforce uniqueness")
	return cmd
}

// newTxnDemoCmd runs a small scripted transaction within a single
// process: begin, queue one insert per --row value, commit — showing that nothing
// lands in the heap or its indexes until commit replays the write set.
func newTxnDemoCmd() *cobra.Command {
	var table string
	var values []string
	cmd := &cobra.Command{
		Use:   "txn-demo",
		Short: "demonstrate a deferred-write transaction against TABLE",
		RunE: func(cmd *cobra.Command, args []string) error {
			if table == "" {
				return fmt.Errorf("--table is required")
			}
			txnID := cfgEngine.BeginTransaction()
			for _, v := range values {
				row, err := parseRow(strings.Split(v, ","))
				if err != nil {
					return cfgEngine.AbortTransaction(txnID)
				}
				if _, err := cfgEngine.InsertRow(table, row, &txnID); err != nil {
					abortErr := cfgEngine.AbortTransaction(txnID)
					if abortErr != nil {
						return fmt.Errorf("%w (and abort failed: %v)", err, abortErr)
					}
					return err
				}
			}
			if err := cfgEngine.CommitTransaction(txnID); err != nil {
				return err
			}
			fmt.Println("committed transaction", txnID)
			return nil
		},
	}
	cmd.Flags().StringVar(&table, "table", "", "table to insert into")
	cmd.Flags().StringArrayVar(&values, "row", nil, "col=value,col=value, repeatable")
	return cmd
}
