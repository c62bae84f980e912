package diff

import (
	"testing"

	"github.com/zulandar/conductor/internal/snapshot"
)

const tempBase int64 = 1_700_000_000_000

func row(id int64, desc string) snapshot.Row {
	return snapshot.Row{ID: id, Role: "Ops", Time: "00:00:00", Duration: "00:00", Description: desc, Status: "N/A"}
}

func state(phases ...snapshot.Phase) snapshot.State {
	return snapshot.State{Version: "v1", Table: snapshot.Table(phases)}
}

func phase(n int, rows ...snapshot.Row) snapshot.Phase {
	return snapshot.Phase{Phase: n, Rows: rows}
}

func tableOf(phases ...snapshot.Phase) snapshot.Table {
	return snapshot.Table(phases)
}

func types(cs []Change) []ChangeType {
	out := make([]ChangeType, len(cs))
	for i, c := range cs {
		out[i] = c.Type
	}
	return out
}

func count(cs []Change, t ChangeType) int {
	n := 0
	for _, c := range cs {
		if c.Type == t {
			n++
		}
	}
	return n
}

func only[T any](t *testing.T, cs []Change, ct ChangeType) T {
	t.Helper()
	var found []T
	for _, c := range cs {
		if c.Type == ct {
			found = append(found, c.Payload.(T))
		}
	}
	if len(found) != 1 {
		t.Fatalf("got %d %s changes, want 1 (all: %v)", len(found), ct, types(cs))
	}
	return found[0]
}

func TestCompute_NoOpIsIdempotent(t *testing.T) {
	old := state(
		phase(1, row(1, "a"), row(2, "b")),
		phase(2, row(3, "c")),
	)
	old.Roles = []string{"Manager", "Ops"}
	old.Scripts = []snapshot.Script{{ID: 1, Name: "h", Path: "h.sh"}}
	v := "v1"

	got := Compute(old, Proposal{Version: &v, Table: old.Table, Roles: old.Roles, Scripts: old.Scripts}, Ops{}, Options{})
	if len(got) != 0 {
		t.Errorf("Compute(self) = %v, want no changes", types(got))
	}
}

func TestCompute_NilProposalFieldsAreNotCompared(t *testing.T) {
	old := state(phase(1, row(1, "a")))
	old.Roles = []string{"Manager"}

	got := Compute(old, Proposal{}, Ops{}, Options{})
	if len(got) != 0 {
		t.Errorf("Compute(empty proposal) = %v, want none", types(got))
	}
}

func TestCompute_PureMoveRoundTrip(t *testing.T) {
	old := state(phase(1, row(1, "A"), row(2, "B")))
	got := Compute(old, Proposal{Table: tableOf(phase(1, row(2, "B"), row(1, "A")))}, Ops{}, Options{})

	mv := only[RowMove](t, got, TypeRowMove)
	if mv.RowID != 1 && mv.RowID != 2 {
		t.Errorf("moved row = %d, want A or B", mv.RowID)
	}
	if count(got, TypeRowUpdate) != 0 {
		t.Errorf("unexpected updates: %v", types(got))
	}
	if count(got, TypeTableData) != 1 {
		t.Errorf("want one table_data, got %v", types(got))
	}
}

func TestCompute_DragToEndKeepsSingleMove(t *testing.T) {
	old := state(phase(1, row(1, "A"), row(2, "B"), row(3, "C"), row(4, "D")))
	got := Compute(old, Proposal{Table: tableOf(phase(1, row(2, "B"), row(3, "C"), row(4, "D"), row(1, "A")))}, Ops{}, Options{})

	mv := only[RowMove](t, got, TypeRowMove)
	if mv.RowID != 1 || mv.SourceIndex != 0 || mv.TargetIndex != 3 {
		t.Errorf("move = %+v, want row 1 from 0 to 3", mv)
	}
}

func TestCompute_CascadeSuppressionAfterDelete(t *testing.T) {
	old := state(phase(1, row(1, "A"), row(2, "B"), row(3, "C")))
	got := Compute(old, Proposal{Table: tableOf(phase(1, row(2, "B"), row(3, "C")))}, Ops{}, Options{})

	del := only[RowDelete](t, got, TypeRowDelete)
	if del.RowID != 1 || del.SourceIndex != 0 {
		t.Errorf("delete = %+v, want row 1 at 0", del)
	}
	if n := count(got, TypeRowMove); n != 0 {
		t.Errorf("row_move count = %d, want 0 (%v)", n, types(got))
	}
}

func TestCompute_DeleteInMiddleSuppressesShift(t *testing.T) {
	old := state(phase(1, row(1, "A"), row(2, "B"), row(3, "C"), row(4, "D")))
	got := Compute(old, Proposal{Table: tableOf(phase(1, row(1, "A"), row(3, "C"), row(4, "D")))}, Ops{}, Options{})

	if n := count(got, TypeRowMove); n != 0 {
		t.Errorf("row_move count = %d, want 0 (%v)", n, types(got))
	}
}

func TestCompute_DraggedRowWinsOverShiftedNeighbour(t *testing.T) {
	tests := []struct {
		name     string
		old, new snapshot.Phase
		moved    int64
		src, dst int
		deleted  int64
	}{
		{
			name:  "drag to top past a deleted row",
			old:   phase(1, row(1, "A"), row(2, "B"), row(3, "C")),
			new:   phase(1, row(3, "C"), row(1, "A")),
			moved: 3, src: 2, dst: 0, deleted: 2,
		},
		{
			name:  "drag to top with a gap behind",
			old:   phase(1, row(1, "A"), row(2, "B"), row(3, "C"), row(4, "D")),
			new:   phase(1, row(4, "D"), row(1, "A"), row(3, "C")),
			moved: 4, src: 3, dst: 0, deleted: 2,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Compute(state(tt.old), Proposal{Table: tableOf(tt.new)}, Ops{}, Options{})

			mv := only[RowMove](t, got, TypeRowMove)
			if mv.RowID != tt.moved || mv.SourceIndex != tt.src || mv.TargetIndex != tt.dst {
				t.Errorf("move = %+v, want row %d %d->%d", mv, tt.moved, tt.src, tt.dst)
			}
			if del := only[RowDelete](t, got, TypeRowDelete); del.RowID != tt.deleted {
				t.Errorf("delete = %+v, want row %d", del, tt.deleted)
			}
		})
	}
}

func TestCompute_InsertShiftIsNotAMove(t *testing.T) {
	old := state(phase(1, row(1, "A"), row(2, "B"), row(3, "C")))
	got := Compute(old, Proposal{Table: tableOf(phase(1, row(0, "new"), row(1, "A"), row(2, "B"), row(3, "C")))}, Ops{}, Options{})

	if n := count(got, TypeRowMove); n != 0 {
		t.Errorf("row_move count = %d, want 0 (%v)", n, types(got))
	}
	add := only[RowAdd](t, got, TypeRowAdd)
	if add.TargetIndex != 0 || add.Row.Description != "new" {
		t.Errorf("add = %+v", add)
	}
}

func TestCompute_UnevenInsertsDoNotTriggerLargestRule(t *testing.T) {
	old := state(phase(1, row(1, "A"), row(2, "B"), row(3, "C")))
	newTable := tableOf(phase(1,
		row(1, "A"), row(0, "x"), row(0, "y"), row(2, "B"), row(0, "z"), row(3, "C"),
	))
	got := Compute(old, Proposal{Table: newTable}, Ops{}, Options{})

	if n := count(got, TypeRowMove); n != 0 {
		t.Errorf("row_move count = %d, want 0 (%v)", n, types(got))
	}
	if n := count(got, TypeRowAdd); n != 3 {
		t.Errorf("row_add count = %d, want 3", n)
	}
}

func TestCompute_MoveOutOfPhaseDoesNotShiftOthers(t *testing.T) {
	old := state(
		phase(1, row(1, "A"), row(2, "B"), row(3, "C")),
		phase(2, row(4, "D")),
	)
	got := Compute(old, Proposal{Table: tableOf(
		phase(1, row(2, "B"), row(3, "C")),
		phase(2, row(4, "D"), row(1, "A")),
	)}, Ops{}, Options{})

	mv := only[RowMove](t, got, TypeRowMove)
	if mv.RowID != 1 || mv.SourcePhase != 1 || mv.TargetPhase != 2 || mv.TargetIndex != 1 {
		t.Errorf("move = %+v", mv)
	}
}

func TestCompute_DuplicateNotAdd(t *testing.T) {
	b := row(2, "B")
	old := state(
		phase(1, row(1, "A"), b),
		phase(2, row(3, "C")),
	)
	cp := b
	cp.ID = tempBase + 5
	got := Compute(old, Proposal{Table: tableOf(
		phase(1, row(1, "A"), b),
		phase(2, row(3, "C"), cp),
	)}, Ops{}, Options{})

	dup := only[RowDuplicate](t, got, TypeRowDuplicate)
	if dup.SourceRowID != 2 || dup.NewTempID != tempBase+5 || dup.TargetPhase != 2 || dup.TargetIndex != 1 {
		t.Errorf("duplicate = %+v", dup)
	}
	if dup.Row.ID != 0 {
		t.Errorf("duplicate content carries id %d", dup.Row.ID)
	}
	if n := count(got, TypeRowAdd); n != 0 {
		t.Errorf("row_add count = %d, want 0", n)
	}
}

func TestCompute_TempRowWithNewContentIsAdd(t *testing.T) {
	old := state(phase(1, row(1, "A")))
	got := Compute(old, Proposal{Table: tableOf(phase(1, row(1, "A"), row(tempBase+1, "fresh")))}, Ops{}, Options{})

	add := only[RowAdd](t, got, TypeRowAdd)
	if add.TempID != tempBase+1 || add.PhaseNumber != 1 || add.TargetIndex != 1 {
		t.Errorf("add = %+v", add)
	}
	if count(got, TypeTableData) != 1 {
		t.Errorf("want table_data after structural change: %v", types(got))
	}
}

func TestCompute_UpdateCarriesAllChangedFields(t *testing.T) {
	old := state(phase(1, row(1, "A")))
	edited := row(1, "A2")
	edited.Role = "DBA"
	got := Compute(old, Proposal{Table: tableOf(phase(1, edited))}, Ops{}, Options{})

	u := only[RowUpdate](t, got, TypeRowUpdate)
	if u.RowID != 1 || len(u.NewFields) != 2 {
		t.Fatalf("update = %+v, want two fields", u)
	}
	if u.OldFields["role"] != "Ops" || u.NewFields["role"] != "DBA" {
		t.Errorf("role fields = %q -> %q", u.OldFields["role"], u.NewFields["role"])
	}
	if u.NewFields["description"] != "A2" {
		t.Errorf("description = %q", u.NewFields["description"])
	}
	if count(got, TypeTableData) != 0 {
		t.Errorf("update alone should not emit table_data: %v", types(got))
	}
}

func TestCompute_EditAndMoveAreIndependent(t *testing.T) {
	old := state(phase(1, row(1, "A"), row(2, "B"), row(3, "C")))
	edited := row(1, "A edited")
	got := Compute(old, Proposal{Table: tableOf(phase(1, row(2, "B"), row(3, "C"), edited))}, Ops{}, Options{})

	if u := only[RowUpdate](t, got, TypeRowUpdate); u.RowID != 1 {
		t.Errorf("update row = %d", u.RowID)
	}
	if mv := only[RowMove](t, got, TypeRowMove); mv.RowID != 1 {
		t.Errorf("move row = %d", mv.RowID)
	}
}

func TestCompute_ExplicitMoveWinsOverInference(t *testing.T) {
	old := state(
		phase(1, row(1, "A"), row(2, "B")),
		phase(2),
	)
	edited := row(2, "B edited")
	ops := Ops{Moves: []MoveHint{{RowID: 2, SourcePhase: 1, TargetPhase: 2, TargetIndex: 0}}}
	got := Compute(old, Proposal{Table: tableOf(phase(1, row(1, "A")), phase(2, edited))}, ops, Options{})

	mv := only[RowMove](t, got, TypeRowMove)
	if !mv.Explicit || mv.SourcePhase != 1 || mv.SourceIndex != 1 || mv.TargetPhase != 2 {
		t.Errorf("move = %+v", mv)
	}
	if u := only[RowUpdate](t, got, TypeRowUpdate); u.NewFields["description"] != "B edited" {
		t.Errorf("update = %+v", u)
	}
	if count(got, TypeRowDelete) != 0 {
		t.Errorf("explicitly moved row reported deleted: %v", types(got))
	}
}

func TestCompute_ExplicitMoveOfUnknownRowIgnored(t *testing.T) {
	old := state(phase(1, row(1, "A")))
	ops := Ops{Moves: []MoveHint{{RowID: 99, TargetPhase: 1}}}
	got := Compute(old, Proposal{Table: old.Table}, ops, Options{})
	if len(got) != 0 {
		t.Errorf("got %v, want none", types(got))
	}
}

func TestCompute_ExplicitDuplicateConsumesTempRow(t *testing.T) {
	old := state(phase(1, row(1, "A")))
	cp := row(tempBase+9, "A")
	cp.Description = "A (copy edited)"
	ops := Ops{Duplicates: []DuplicateHint{{SourceRowID: 1, NewTempID: tempBase + 9, TargetPhase: 1, TargetIndex: 1}}}
	got := Compute(old, Proposal{Table: tableOf(phase(1, row(1, "A"), cp))}, ops, Options{})

	dup := only[RowDuplicate](t, got, TypeRowDuplicate)
	if dup.SourceRowID != 1 || dup.NewTempID != tempBase+9 || dup.Row.Description != "A (copy edited)" {
		t.Errorf("duplicate = %+v", dup)
	}
	if count(got, TypeRowAdd) != 0 {
		t.Errorf("temp row reported as add: %v", types(got))
	}
}

func TestCompute_ExplicitMoveOfRemovedRowIsDelete(t *testing.T) {
	old := state(phase(1, row(1, "A"), row(2, "B")))
	ops := Ops{Moves: []MoveHint{{RowID: 1, SourcePhase: 1}}}
	got := Compute(old, Proposal{Table: tableOf(phase(1, row(2, "B")))}, ops, Options{})

	if del := only[RowDelete](t, got, TypeRowDelete); del.RowID != 1 {
		t.Errorf("delete = %+v, want row 1", del)
	}
	if n := count(got, TypeRowMove); n != 0 {
		t.Errorf("row_move count = %d, want 0 (%v)", n, types(got))
	}
}

func TestCompute_DuplicateHintIgnoresDurableTempID(t *testing.T) {
	old := state(phase(1, row(1, "A"), row(2, "B")))
	ops := Ops{Duplicates: []DuplicateHint{{SourceRowID: 1, NewTempID: 2, TargetPhase: 1, TargetIndex: 2}}}
	got := Compute(old, Proposal{Table: old.Table}, ops, Options{})

	dup := only[RowDuplicate](t, got, TypeRowDuplicate)
	if dup.SourceRowID != 1 || dup.Row.Description != "A" {
		t.Errorf("duplicate = %+v", dup)
	}
	if n := count(got, TypeRowDelete); n != 0 {
		t.Errorf("row_delete count = %d, want 0 (%v)", n, types(got))
	}
}

func TestCompute_RowWithoutIDMatchesGoneRowBySignature(t *testing.T) {
	old := state(phase(1, row(1, "A"), row(2, "B")))
	got := Compute(old, Proposal{Table: tableOf(phase(1, row(1, "A"), row(0, "B")))}, Ops{}, Options{})
	if len(got) != 0 {
		t.Errorf("got %v, want none", types(got))
	}
}

func TestCompute_RecreatedRowIsDuplicateAndDelete(t *testing.T) {
	old := state(phase(1, row(1, "A"), row(2, "B")))
	got := Compute(old, Proposal{Table: tableOf(phase(1, row(1, "A"), row(tempBase+3, "B")))}, Ops{}, Options{})

	if dup := only[RowDuplicate](t, got, TypeRowDuplicate); dup.SourceRowID != 2 {
		t.Errorf("duplicate source = %d, want 2", dup.SourceRowID)
	}
	if del := only[RowDelete](t, got, TypeRowDelete); del.RowID != 2 {
		t.Errorf("delete = %d, want 2", del.RowID)
	}
}

func TestCompute_PhaseAddAndDelete(t *testing.T) {
	old := state(
		phase(1, row(1, "A")),
		phase(2, row(2, "B"), row(3, "C")),
	)
	got := Compute(old, Proposal{Table: tableOf(
		phase(1, row(1, "A")),
		snapshot.Phase{Phase: 3, IsActive: true},
	)}, Ops{}, Options{})

	add := only[PhaseAdd](t, got, TypePhaseAdd)
	if add.PhaseNumber != 3 || !add.IsActive {
		t.Errorf("phase add = %+v", add)
	}
	del := only[PhaseDelete](t, got, TypePhaseDelete)
	if del.PhaseNumber != 2 || len(del.Rows) != 2 {
		t.Errorf("phase delete = %+v", del)
	}
	if count(got, TypeRowDelete) != 0 {
		t.Errorf("rows of a deleted phase reported individually: %v", types(got))
	}
}

func TestCompute_RowsWithoutPhaseIgnored(t *testing.T) {
	old := state(phase(1, row(1, "A")))
	got := Compute(old, Proposal{Table: tableOf(phase(1, row(1, "A")), phase(0, row(0, "orphan")))}, Ops{}, Options{})
	if len(got) != 0 {
		t.Errorf("got %v, want none", types(got))
	}
}

func TestCompute_Version(t *testing.T) {
	v := "v2"
	got := Compute(state(), Proposal{Version: &v}, Ops{}, Options{})
	ver := only[Version](t, got, TypeVersion)
	if ver.OldVersion != "v1" || ver.NewVersion != "v2" {
		t.Errorf("version = %+v", ver)
	}
}

func TestCompute_Roles(t *testing.T) {
	old := state()
	old.Roles = []string{"Manager", "DBA"}
	got := Compute(old, Proposal{Roles: []string{"Manager", " Network ", "Network", ""}}, Ops{}, Options{})

	want := []ChangeType{TypeRoleAdd, TypeRoleDelete}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", types(got), want)
	}
	if r := got[0].Payload.(Role); r.Role != "Network" {
		t.Errorf("role_add = %q", r.Role)
	}
	if r := got[1].Payload.(Role); r.Role != "DBA" {
		t.Errorf("role_delete = %q", r.Role)
	}
}

func TestCompute_Scripts(t *testing.T) {
	old := state()
	old.Scripts = []snapshot.Script{
		{ID: 1, Name: "health", Path: "health.sh"},
		{ID: 2, Name: "disk", Path: "disk.sh"},
	}
	got := Compute(old, Proposal{Scripts: []snapshot.Script{
		{ID: 1, Name: "health", Path: "health-v2.sh", Status: true},
		{Name: "net", Path: "net.sh"},
	}}, Ops{}, Options{})

	u := only[ScriptUpdate](t, got, TypeScriptUpdate)
	if u.ScriptID != 1 || u.NewFields["path"] != "health-v2.sh" || len(u.NewFields) != 1 {
		t.Errorf("script update = %+v", u)
	}
	if a := only[ScriptAdd](t, got, TypeScriptAdd); a.Script.Name != "net" {
		t.Errorf("script add = %+v", a)
	}
	if d := only[ScriptDelete](t, got, TypeScriptDelete); d.ScriptID != 2 {
		t.Errorf("script delete = %+v", d)
	}
}

func TestCompute_OutputOrder(t *testing.T) {
	old := state(phase(1, row(1, "A"), row(2, "B")))
	v := "v9"
	edited := row(1, "A2")
	got := Compute(old, Proposal{
		Version: &v,
		Table:   tableOf(phase(1, edited, row(0, "new")), phase(2)),
		Roles:   []string{"X"},
	}, Ops{}, Options{})

	want := []ChangeType{TypeVersion, TypePhaseAdd, TypeRowUpdate, TypeRowAdd, TypeRowDelete, TypeRoleAdd, TypeTableData}
	gotTypes := types(got)
	if len(gotTypes) != len(want) {
		t.Fatalf("types = %v, want %v", gotTypes, want)
	}
	for i := range want {
		if gotTypes[i] != want[i] {
			t.Fatalf("types = %v, want %v", gotTypes, want)
		}
	}
}

func TestLargestDisplacement(t *testing.T) {
	tests := []struct {
		name   string
		cs     []candidate
		wantOK bool
		want   int
	}{
		{"single winner", []candidate{{newIdx: 0, src: 0, dst: 3}, {newIdx: 1, src: 1, dst: 0}}, true, 0},
		{"tie", []candidate{{newIdx: 0, src: 0, dst: 1}, {newIdx: 1, src: 1, dst: 0}}, false, 0},
		{"winner last", []candidate{{newIdx: 0, src: 1, dst: 0}, {newIdx: 1, src: 2, dst: 1}, {newIdx: 2, src: 0, dst: 4}}, true, 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, ok := largestDisplacement(tt.cs)
			if ok != tt.wantOK {
				t.Fatalf("ok = %v, want %v", ok, tt.wantOK)
			}
			if ok && c.newIdx != tt.want {
				t.Errorf("winner = %d, want %d", c.newIdx, tt.want)
			}
		})
	}
}

func TestEncodeDecode(t *testing.T) {
	c := Change{Type: TypeRowDuplicate, Payload: RowDuplicate{SourceRowID: 4, NewTempID: tempBase, TargetPhase: 2, TargetIndex: 1, Row: row(0, "copy")}}
	data, err := c.Encode()
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	back, err := Decode(TypeRowDuplicate, data)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	dup, ok := back.Payload.(RowDuplicate)
	if !ok {
		t.Fatalf("payload type = %T", back.Payload)
	}
	if dup.SourceRowID != 4 || dup.Row.Description != "copy" {
		t.Errorf("decoded = %+v", dup)
	}

	if _, err := Decode("bogus", data); err == nil {
		t.Error("expected error for unknown type")
	}
}

func TestChangeType_Predicates(t *testing.T) {
	if !TypeTableData.Internal() || TypeRowAdd.Internal() {
		t.Error("Internal() wrong")
	}
	if !TypeRowMove.Reorders() || !TypeRowDuplicate.Reorders() || TypeRowAdd.Reorders() {
		t.Error("Reorders() wrong")
	}
	if !TypeRowDelete.Structural() || TypeRowUpdate.Structural() || TypePhaseAdd.Structural() {
		t.Error("Structural() wrong")
	}
}
