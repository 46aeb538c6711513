package export

import (
	"fmt"
	"io/fs"
	"strings"
	"sync"
	"testing/fstest"

	"github.com/fumiama/go-docx"
)

// Paragraph styles that keep a question on one page. Word moves the whole
// chain of keepNext paragraphs to the next page when it does not fit.
const (
	styleKeepNext  = "ExamKeepNext"
	styleKeepLines = "ExamKeepLines"
)

const docxTheme = "examgen"

const keepStyles = `<w:style w:type="paragraph" w:customStyle="1" w:styleId="` + styleKeepNext + `">
        <w:name w:val="Exam Keep With Next"/>
        <w:basedOn w:val="a"/>
        <w:qFormat/>
        <w:pPr><w:keepNext/><w:keepLines/></w:pPr>
    </w:style>
    <w:style w:type="paragraph" w:customStyle="1" w:styleId="` + styleKeepLines + `">
        <w:name w:val="Exam Keep Lines"/>
        <w:basedOn w:val="a"/>
        <w:qFormat/>
        <w:pPr><w:keepLines/></w:pPr>
    </w:style>
`

// themeFS is the library's default template with the keep styles added to
// word/styles.xml.
var themeFS = sync.OnceValues(func() (fs.FS, error) {
	out := fstest.MapFS{}
	for _, name := range docx.DefaultTemplateFilesList {
		data, err := fs.ReadFile(docx.TemplateXMLFS, "xml/default/"+name)
		if err != nil {
			return nil, fmt.Errorf("docx template %s: %w", name, err)
		}
		if name == "word/styles.xml" {
			s := string(data)
			i := strings.LastIndex(s, "</w:styles>")
			if i < 0 {
				return nil, fmt.Errorf("docx template %s: no closing tag", name)
			}
			data = []byte(s[:i] + keepStyles + s[i:])
		}
		out["xml/"+docxTheme+"/"+name] = &fstest.MapFile{Data: data, Mode: 0o444}
	}
	return out, nil
})

// newDocx returns an empty document using the exam template.
func newDocx() (*docx.Docx, error) {
	tfs, err := themeFS()
	if err != nil {
		return nil, err
	}
	return docx.New().UseTemplate(docxTheme, docx.DefaultTemplateFilesList, tfs), nil
}

// keepTogether styles the paragraphs in items so a word processor does not
// split them across pages.
func keepTogether(items []any) {
	var paras []*docx.Paragraph
	for _, it := range items {
		if p, ok := it.(*docx.Paragraph); ok {
			paras = append(paras, p)
		}
	}
	for i, p := range paras {
		style := styleKeepNext
		if i == len(paras)-1 {
			style = styleKeepLines
		}
		if p.Properties == nil {
			p.Properties = &docx.ParagraphProperties{}
		}
		p.Properties.Style = &docx.Style{Val: style}
	}
}
