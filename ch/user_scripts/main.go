// Command user_scripts is a ClickHouse executable UDF. Given a tab separated
// `table, start partition, end partition` line on stdin it prints a url glob
// over every persisted chunk file of that table in the partition range, ready
// for the s3() table function.
package main

import (
	"bufio"
	"context"
	"fmt"
	"log"
	"os"
	"path"
	"runtime/debug"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5"
)

func getEnvOrDefault(env, defaultVal string) string {
	if v := os.Getenv(env); v != "" {
		return v
	}
	return defaultVal
}

func main() {
	logout, err := os.Create("/tmp/out.log")
	if err != nil {
		log.Fatal("Error opening log out", err)
	}

	defer func() {
		if err := recover(); err != nil {
			log.Println("panic occurred:", err)
			log.Println(string(debug.Stack()))
		}
	}()

	log.SetOutput(logout)

	reader := bufio.NewReader(os.Stdin)
	str, err := reader.ReadString('\n')
	if err != nil {
		log.Fatal("error reading stdin:", err)
	}
	log.Println("got str:", str)
	args := strings.Split(strings.TrimSpace(str), "\t")
	if len(args) != 3 {
		log.Fatal("expected table, start partition and end partition, got ", len(args), " args")
	}
	table, startPartition, endPartition := args[0], args[1], args[2]

	ctx := context.Background()
	conn, err := pgx.Connect(ctx, getEnvOrDefault("CRDB_DSN", "postgresql://root@crdb:26257/defaultdb"))
	if err != nil {
		log.Fatal("Unable to connect to database: ", err)
	}
	defer conn.Close(ctx)

	rows, err := conn.Query(ctx, `
	select partition_key, chunk_id
	from chunk_files
	where table_name = $1
	AND partition_key >= $2
	AND partition_key <= $3
	order by partition_key, chunk_id
	`, table, startPartition, endPartition)
	if err != nil {
		log.Fatal("err querying", err)
	}

	log.Println("got part range", startPartition, endPartition, "for table", table)

	var files []string
	for rows.Next() {
		var partition string
		var chunkID int64
		err := rows.Scan(&partition, &chunkID)
		if err != nil {
			log.Fatal("error scanning rows:", err)
		}
		// same layout as datastore.ChunkFilePath
		files = append(files, path.Join(partition, strconv.FormatInt(chunkID, 10), table+".parquet"))
	}
	if err = rows.Err(); err != nil {
		log.Fatal("error reading rows:", err)
	}

	out := fmt.Sprintf("%s/{%s}", strings.TrimSuffix(getEnvOrDefault("CHUNK_FILES_URL", "http://minio:9000/testbucket"), "/"), strings.Join(files, ","))
	log.Println("writing out:", out)
	fmt.Print(out)
}
