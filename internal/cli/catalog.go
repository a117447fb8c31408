package cli

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"circdesk/internal/catalog"
	"circdesk/internal/clients"
)

func init() {
	rootCmd.AddCommand(catalogCmd)
	catalogCmd.AddCommand(catalogAddCmd, catalogSearchCmd)

	f := catalogAddCmd.Flags()
	f.String("title", "", "title")
	f.String("author", "", "author")
	f.String("isbn", "", "ISBN-10 or ISBN-13")
	f.String("genre", "", "genre; members who favour it are told about the arrival")
	f.String("format", string(catalog.Paperback), "hardcover, paperback, ebook_pdf, ebook_epub, ebook_mobi or audiobook")
	f.String("category", string(catalog.General), "general, fiction, nonfiction, fantasy or textbook")
	f.Int("year", 0, "publication year")
	f.Int("pages", 0, "page count")
	f.Int("words", 0, "word count, for e-books")
	f.Int("minutes", 0, "running time, for audiobooks")
	_ = catalogAddCmd.MarkFlagRequired("title")
	_ = catalogAddCmd.MarkFlagRequired("isbn")
}

var catalogCmd = &cobra.Command{
	Use:   "catalog",
	Short: "Add and search catalogue entries",
}

var catalogAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Catalogue a new copy and put it into circulation",
	Args:  cobra.NoArgs,
	RunE:  runCatalogAdd,
}

func runCatalogAdd(cmd *cobra.Command, args []string) error {
	f := cmd.Flags()
	var in catalog.NewEntry
	in.Title, _ = f.GetString("title")
	in.Author, _ = f.GetString("author")
	in.ISBN, _ = f.GetString("isbn")
	in.Genre, _ = f.GetString("genre")
	format, _ := f.GetString("format")
	category, _ := f.GetString("category")
	in.Format = catalog.Format(format)
	in.Category = catalog.Category(category)
	in.Year, _ = f.GetInt("year")
	in.Pages, _ = f.GetInt("pages")
	in.WordCount, _ = f.GetInt("words")
	in.DurationMinutes, _ = f.GetInt("minutes")

	item, err := clients.NewCatalogClient(apiClient(cmd)).AddItem(cmd.Context(), in)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s %q as item %s (about %d minutes to read)\n",
		successStyle.Render("Catalogued"), item.Title, item.ID, item.ReadingMinutes)
	return nil
}

var catalogSearchCmd = &cobra.Command{
	Use:   "search QUERY",
	Short: "Search titles, authors, ISBNs and tags",
	Args:  cobra.ExactArgs(1),
	RunE:  runCatalogSearch,
}

func runCatalogSearch(cmd *cobra.Command, args []string) error {
	items, err := clients.NewCatalogClient(apiClient(cmd)).Search(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	rows := make([][]string, 0, len(items))
	for _, it := range items {
		year := ""
		if it.Year > 0 {
			year = strconv.Itoa(it.Year)
		}
		rows = append(rows, []string{it.ID.String(), it.Title, it.Author, year, it.Genre})
	}
	renderTable(cmd.OutOrStdout(), []string{"ITEM", "TITLE", "AUTHOR", "YEAR", "GENRE"}, rows)
	return nil
}
