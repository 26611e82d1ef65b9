package mcpserver

// ArtifactFormatContract describes the Markdown files pagesync writes so
// that LLM consumers can read the content tree without guessing.
const ArtifactFormatContract = `# pagesync Artifact Format

Every file under the content directory that pagesync owns is generated from
one Notion page. Hand edits are overwritten on the next pass that changes
the page, and files pagesync does not own are never touched.

## Structure

` + "```" + `markdown
---
date: "2024-03-01"          # from "Date", else the page creation time
draft: false                # inverted "Published" checkbox
notion_id: 0f6d...          # ALWAYS present; identifies the owning page
summary: Short summary      # "Summary", else "Description"
tags:
  - go
title: Hello World          # "Name", else "Title"; REQUIRED
---

Body converted from the page blocks.
` + "```" + `

## Rules

1. **Front matter is YAML** between ` + "`" + `---` + "`" + ` fences with keys sorted.
2. **` + "`" + `notion_id` + "`" + `** ties a file to its page. A file without it, or with
   a different id, is never overwritten.
3. **Paths** are ` + "`" + `<bucket>/<slug>.md` + "`" + `, or
   ` + "`" + `<bucket>/<yyyy-mm-dd>-<slug>.md` + "`" + ` when the target uses date prefixes. The
   slug comes from the ` + "`" + `slug` + "`" + ` key when set, else the title, else the page id.
4. **Pages with the "Skip" checkbox** are left exactly as they were.
5. **Deleted pages** have their file removed on the next pass.
6. **Encoding** is UTF-8 with a trailing newline.

## Tools

- ` + "`" + `run_sync` + "`" + ` runs one pass (` + "`" + `incremental` + "`" + ` by default, ` + "`" + `full` + "`" + ` to re-render everything).
- ` + "`" + `list_records` + "`" + ` and ` + "`" + `get_record` + "`" + ` show the sync state per page.
- ` + "`" + `list_runs` + "`" + ` shows recent passes with their per-page errors.
- ` + "`" + `get_mapping` + "`" + ` returns the active property mapping rules as YAML.
`
