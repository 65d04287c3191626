package dump

import (
	"fmt"
	"sort"
	"strings"
)

// NewTextSerializer creates a serializer producing an indented, human
// readable listing. Its output cannot be read back.
func NewTextSerializer() IDumpSerializer {
	return &textSerializerImpl{}
}

type textSerializerImpl struct {
}

func (t textSerializerImpl) Deserialize(b []byte, d *Dump) error {
	return fmt.Errorf("text: %w", ErrNotReadable)
}

func (t textSerializerImpl) Serialize(d *Dump) ([]byte, error) {
	var sb strings.Builder

	addSection := func(title string) {
		sb.WriteString("\n")
		sb.WriteString(fmt.Sprintf("%s\n", strings.ToUpper(title)))
	}

	addField := func(name, value string) {
		sb.WriteString(fmt.Sprintf("  %-22s: %s\n", name, value))
	}

	addSection("Stream")
	addField("Format Version", fmt.Sprintf("%d", d.FormatVersion))
	addField("Size", fmt.Sprintf("%d bytes", d.Size))
	addField("Fingerprint", d.Fingerprint)
	if d.Error != "" {
		addField("Error", d.Error)
	}

	addSection("Statistics")
	addField("Roots", fmt.Sprintf("%d", d.Stats.Roots))
	addField("Objects", fmt.Sprintf("%d (%d untracked)", d.Stats.Objects, d.Stats.Untracked))
	addField("Back-references", fmt.Sprintf("%d", d.Stats.BackRefs))
	addField("Nulls", fmt.Sprintf("%d", d.Stats.Nulls))
	addField("Resets", fmt.Sprintf("%d", d.Stats.Resets))
	addField("Primitives", fmt.Sprintf("%d", d.Stats.Primitives))
	addField("Max Depth", fmt.Sprintf("%d", d.Stats.MaxDepth))
	addField("Root Size (avg)", fmt.Sprintf("%d bytes", d.Stats.AvgRootSize))
	addField("Root Size (median)", fmt.Sprintf("~%d bytes", d.Stats.MedianRootSize))
	addField("Root Size (p99)", fmt.Sprintf("~%d bytes", d.Stats.P99RootSize))

	if len(d.Stats.Types) > 0 {
		addSection("Types")
		names := make([]string, 0, len(d.Stats.Types))
		for name := range d.Stats.Types {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			addField(name, fmt.Sprintf("%d", d.Stats.Types[name]))
		}
	}

	addSection("Records")
	for _, rec := range d.Records {
		writeRecord(&sb, rec, "  ")
	}

	return []byte(sb.String()), nil
}

// writeRecord writes one record line followed by its fields
func writeRecord(sb *strings.Builder, rec *Record, indent string) {
	sb.WriteString(indent)
	sb.WriteString(describe(rec))
	sb.WriteString("\n")
	writeFields(sb, rec.Fields, indent+"  ")
}

func writeFields(sb *strings.Builder, fields []*Field, indent string) {
	for _, f := range fields {
		if f.Record == nil {
			fmt.Fprintf(sb, "%s.%s %s = %s\n", indent, f.Name, f.Kind, f.Value)
			continue
		}
		fmt.Fprintf(sb, "%s.%s -> %s\n", indent, f.Name, describe(f.Record))
		writeFields(sb, f.Record.Fields, indent+"    ")
	}
}

// describe renders the header of a record
func describe(rec *Record) string {
	switch rec.Kind {
	case "object":
		handle := "-"
		if rec.Handle >= 0 {
			handle = fmt.Sprintf("%d", rec.Handle)
		}
		return fmt.Sprintf("@%d object %s v%d handle=%s", rec.Offset, rec.Type, rec.Version, handle)
	case "backref":
		return fmt.Sprintf("@%d backref handle=%d", rec.Offset, rec.Handle)
	case "primitive":
		return fmt.Sprintf("@%d primitive %s", rec.Offset, rec.Value)
	default:
		return fmt.Sprintf("@%d %s", rec.Offset, rec.Kind)
	}
}
