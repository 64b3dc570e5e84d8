package mcpserver

// TemplateFormatContract describes the text file format accepted by the
// template drop folder and the import_template tool.
const TemplateFormatContract = `# Mailroom Template File Format

A template is a name and a body. The name becomes the email subject when a
message is composed from the template; the body becomes the message text.

## Structure

` + "```" + `text
---
name: Monthly update           # OPTIONAL – defaults to the file name without extension
---
Hello everyone,

Here is what happened this month.
` + "```" + `

## Rules

1. **Front matter is optional.** When present, the ` + "`---`" + ` fences must be the first
   thing in the file (leading blank lines are ignored).
2. **` + "`name`" + `** is the only field read. Anything else in the front matter is ignored.
3. **Invalid YAML** makes the whole file, fences included, the body.
4. **The body must not be empty.**
5. **Drop folder files** end with ` + "`.txt`" + `. Hidden files (starting with ` + "`.`" + `) are skipped.
6. **Encoding** is UTF-8 plain text.
7. **Re-saving** a dropped file with new content updates the template it created;
   saving identical content does nothing. Deleting the file keeps the template.

## Importing

` + "`import_template`" + ` accepts an http(s) URL or a base64 ` + "`data:`" + ` URI of
type text/plain, text/markdown or text/html, up to 1 MB. An explicit ` + "`name`" + `
argument wins over the front matter.
`
