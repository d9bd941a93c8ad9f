// Copyright 2022 Piprate Limited
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Command imagevault-sweep is an operator tool: it scans a vault's blob
// storage directory and reports (or removes) non-empty subdirectories that
// have no corresponding entry in the metadata store, left behind by a crash
// between writing blobs and committing the entry record. It needs the
// database's id list but never the master key, so it runs without a
// password.
package main

import (
	"fmt"
	"os"

	"github.com/google/uuid"
	"github.com/urfave/cli/v2"

	"github.com/imagevault/imagevault/internal/blobstore"
	"github.com/imagevault/imagevault/internal/metadb"
)

const Version = "1.0.0"

func main() {
	app := cli.NewApp()
	app.Name = "imagevault-sweep"
	app.Usage = "find (and optionally remove) orphaned image directories in a vault"
	app.Version = Version

	app.Flags = []cli.Flag{
		&cli.StringFlag{
			Name:     "db",
			Usage:    "path to the vault's metadata database file",
			Required: true,
		},
		&cli.StringFlag{
			Name:     "storage",
			Usage:    "path to the vault's blob storage root",
			Required: true,
		},
		&cli.BoolFlag{
			Name:  "delete",
			Usage: "remove orphaned directories instead of just listing them",
		},
	}
	app.Action = run

	if err := app.Run(os.Args); err != nil {
		println(err.Error())
		os.Exit(1)
	}
}

func run(c *cli.Context) error {
	store, err := metadb.Open(c.String("db"))
	if err != nil {
		return cli.Exit(err, 1)
	}
	defer store.Close()

	blobs, err := blobstore.Open(c.String("storage"))
	if err != nil {
		return cli.Exit(err, 1)
	}

	known := map[string]struct{}{}
	err = store.ForEachEntry(func(id [16]byte, _ []byte) error {
		known[uuid.UUID(id).String()] = struct{}{}
		return nil
	})
	if err != nil {
		return cli.Exit(err, 1)
	}

	dirs, err := blobs.ListImageDirs()
	if err != nil {
		return cli.Exit(err, 1)
	}

	var orphans []string
	for _, dir := range dirs {
		if _, ok := known[dir]; ok {
			continue
		}
		if !blobs.HasEntries(dir) {
			continue
		}
		orphans = append(orphans, dir)
	}

	if len(orphans) == 0 {
		fmt.Println("no orphaned image directories found")
		return nil
	}

	for _, id := range orphans {
		if c.Bool("delete") {
			if err := blobs.RemoveImage(id); err != nil {
				fmt.Printf("failed to remove %s: %v\n", id, err)
				continue
			}
			fmt.Printf("removed orphan %s\n", id)
		} else {
			fmt.Printf("orphan %s\n", id)
		}
	}

	return nil
}
