// Command foiacrawl runs the FOIA document crawler and analysis pipeline
// (spec §6): crawl, ocr, summarize, serve, stats subcommands.
package main

import "github.com/foiacquire/crawler/internal/cli"

func main() {
	cli.Execute()
}
