package diff

import (
	"sort"
	"strings"

	"github.com/zulandar/conductor/internal/snapshot"
)

// MoveHint is a client-declared move of an existing row.
type MoveHint struct {
	RowID       int64 `json:"row_id"`
	SourcePhase int   `json:"source_phase"`
	TargetPhase int   `json:"target_phase"`
	SourceIndex int   `json:"source_index"`
	TargetIndex int   `json:"target_index"`
}

// DuplicateHint is a client-declared copy of an existing row.
type DuplicateHint struct {
	SourceRowID int64 `json:"source_row_id"`
	NewTempID   int64 `json:"new_temp_id"`
	TargetPhase int   `json:"target_phase"`
	TargetIndex int   `json:"target_index"`
}

// Ops carries explicit operation hints. Hints take precedence over
// anything inferred from the snapshots.
type Ops struct {
	Moves      []MoveHint      `json:"moves"`
	Duplicates []DuplicateHint `json:"duplicates"`
}

// Proposal is the submitter's desired state. Nil fields were not supplied
// and are not compared.
type Proposal struct {
	Version *string           `json:"version,omitempty"`
	Table   snapshot.Table    `json:"table_data,omitempty"`
	Roles   []string          `json:"roles,omitempty"`
	Scripts []snapshot.Script `json:"periodic_scripts,omitempty"`
}

// Options tunes Compute.
type Options struct {
	// EphemeralThreshold separates durable ids from client tokens. Zero
	// selects snapshot.DefaultEphemeralThreshold.
	EphemeralThreshold int64
}

// Compute returns the ordered changes that turn old into the proposal.
// It has no side effects.
func Compute(old snapshot.State, p Proposal, ops Ops, opts Options) []Change {
	var out []Change

	if p.Version != nil && *p.Version != old.Version {
		out = append(out, Change{Type: TypeVersion, Payload: Version{OldVersion: old.Version, NewVersion: *p.Version}})
	}

	if p.Table != nil {
		rows := newRowDiff(old.Table, p.Table, opts.EphemeralThreshold).run(ops)
		out = append(out, rows...)
	}

	if p.Roles != nil {
		out = append(out, diffRoles(old.Roles, p.Roles)...)
	}
	if p.Scripts != nil {
		out = append(out, diffScripts(old.Scripts, p.Scripts)...)
	}

	if p.Table != nil {
		for _, c := range out {
			if c.Type.Structural() {
				out = append(out, Change{Type: TypeTableData, Payload: TableData{Table: p.Table}})
				break
			}
		}
	}
	return out
}

// slot is a row at a position of one side of the comparison.
type slot struct {
	row   snapshot.Row
	ref   snapshot.RowRef
	phase int
	index int
}

// candidate is a same-phase row whose raw index changed.
type candidate struct {
	newIdx int
	src    int
	dst    int
}

func (c candidate) delta() int { return c.dst - c.src }

// matched records what an id-matched new slot produced.
type matched struct {
	update *RowUpdate
	move   *RowMove
	cand   bool
}

type rowDiff struct {
	threshold int64

	old      []slot
	oldByID  map[int64]int
	oldBySig map[snapshot.Signature][]int
	oldPhase []int
	oldSeen  map[int]bool

	new       []slot
	newPhase  []int
	newSeen   map[int]bool
	newActive map[int]bool

	oldMatched  []bool
	newConsumed []bool

	results    map[int]*matched
	pairs      map[int][][2]int // phase -> (newIdx, oldIdx) matched within the phase
	candidates map[int][]candidate
	deletedAt  map[int][]int // phase -> old indices of deleted rows
}

func newRowDiff(oldTable, newTable snapshot.Table, threshold int64) *rowDiff {
	d := &rowDiff{
		threshold:  threshold,
		oldByID:    map[int64]int{},
		oldBySig:   map[snapshot.Signature][]int{},
		oldSeen:    map[int]bool{},
		newSeen:    map[int]bool{},
		newActive:  map[int]bool{},
		results:    map[int]*matched{},
		pairs:      map[int][][2]int{},
		candidates: map[int][]candidate{},
		deletedAt:  map[int][]int{},
	}
	d.old, d.oldPhase = flatten(oldTable, threshold, d.oldSeen, nil)
	d.new, d.newPhase = flatten(newTable, threshold, d.newSeen, d.newActive)
	for i, s := range d.old {
		if s.ref.IsDurable() {
			if _, dup := d.oldByID[s.ref.ID]; !dup {
				d.oldByID[s.ref.ID] = i
			}
		}
		sig := s.row.Signature()
		d.oldBySig[sig] = append(d.oldBySig[sig], i)
	}
	d.oldMatched = make([]bool, len(d.old))
	d.newConsumed = make([]bool, len(d.new))
	return d
}

// flatten lists rows in table order, merging repeated phase numbers and
// dropping rows whose phase number is not positive.
func flatten(t snapshot.Table, threshold int64, seen map[int]bool, active map[int]bool) ([]slot, []int) {
	var slots []slot
	var order []int
	next := map[int]int{}
	for _, p := range t {
		if p.Phase <= 0 {
			continue
		}
		if !seen[p.Phase] {
			seen[p.Phase] = true
			order = append(order, p.Phase)
			if active != nil {
				active[p.Phase] = p.IsActive
			}
		}
		for _, r := range p.Rows {
			slots = append(slots, slot{row: r, ref: r.Ref(threshold), phase: p.Phase, index: next[p.Phase]})
			next[p.Phase]++
		}
	}
	return slots, order
}

func (d *rowDiff) run(ops Ops) []Change {
	var (
		explicit   []Change
		dups       []Change
		adds       []Change
		deletes    []Change
		phaseAdds  []Change
		phaseDels  []Change
		explicitID = map[int64]bool{}
	)

	// Explicit moves.
	for _, h := range ops.Moves {
		oi, ok := d.oldByID[h.RowID]
		if !ok || explicitID[h.RowID] {
			continue
		}
		explicitID[h.RowID] = true
		o := d.old[oi]
		mv := RowMove{
			RowID:       h.RowID,
			SourcePhase: o.phase,
			SourceIndex: o.index,
			TargetPhase: h.TargetPhase,
			TargetIndex: h.TargetIndex,
			Explicit:    true,
		}
		if ni, ok := d.findNew(h.RowID, snapshot.RefDurable); ok {
			d.oldMatched[oi] = true
			d.newConsumed[ni] = true
			n := d.new[ni]
			if mv.TargetPhase <= 0 {
				mv.TargetPhase, mv.TargetIndex = n.phase, n.index
			}
			if u, changed := rowUpdate(o, n); changed {
				explicit = append(explicit, Change{Type: TypeRowUpdate, Payload: u})
			}
		}
		if mv.TargetPhase <= 0 {
			// Gone from the proposal with nowhere to go: left for deletion.
			continue
		}
		d.oldMatched[oi] = true
		explicit = append(explicit, Change{Type: TypeRowMove, Payload: mv})
	}

	// Explicit duplicates.
	for _, h := range ops.Duplicates {
		dup := RowDuplicate{SourceRowID: h.SourceRowID, NewTempID: h.NewTempID, TargetPhase: h.TargetPhase, TargetIndex: h.TargetIndex}
		found := false
		if ni, ok := d.findNew(h.NewTempID, snapshot.RefEphemeral); ok {
			d.newConsumed[ni] = true
			n := d.new[ni]
			dup.Row = n.row
			if dup.TargetPhase <= 0 {
				dup.TargetPhase, dup.TargetIndex = n.phase, n.index
			}
			found = true
		}
		if oi, ok := d.oldByID[h.SourceRowID]; ok && !found {
			dup.Row = d.old[oi].row
			found = true
		}
		if !found || dup.TargetPhase <= 0 {
			continue
		}
		dup.Row.ID = 0
		explicit = append(explicit, Change{Type: TypeRowDuplicate, Payload: dup})
	}

	// Match by durable id.
	for ni, n := range d.new {
		if d.newConsumed[ni] || !n.ref.IsDurable() {
			continue
		}
		oi, ok := d.oldByID[n.ref.ID]
		if !ok || d.oldMatched[oi] {
			continue
		}
		d.match(oi, ni)
	}

	// Rows without any id fall back to their signature within the phase.
	for ni, n := range d.new {
		if d.newConsumed[ni] || n.ref.Kind != snapshot.RefNone {
			continue
		}
		sig := n.row.Signature()
		for _, oi := range d.oldBySig[sig] {
			if !d.oldMatched[oi] && d.old[oi].phase == n.phase {
				d.match(oi, ni)
				break
			}
		}
	}

	// Temporary or repeated ids whose content equals an existing row are
	// copies of it.
	for ni, n := range d.new {
		if d.newConsumed[ni] || !d.untrusted(n) {
			continue
		}
		oi, ok := d.duplicateSource(n)
		if !ok {
			continue
		}
		d.newConsumed[ni] = true
		dup := RowDuplicate{
			SourceRowID: d.old[oi].ref.ID,
			TargetPhase: n.phase,
			TargetIndex: n.index,
			Row:         n.row,
		}
		if n.ref.IsEphemeral() {
			dup.NewTempID = n.ref.ID
		}
		dup.Row.ID = 0
		dups = append(dups, Change{Type: TypeRowDuplicate, Payload: dup})
	}

	// Old rows nobody claimed are gone.
	deletedByPhase := map[int][]snapshot.Row{}
	for oi, o := range d.old {
		if d.oldMatched[oi] {
			continue
		}
		if !d.newSeen[o.phase] {
			deletedByPhase[o.phase] = append(deletedByPhase[o.phase], o.row)
			continue
		}
		d.deletedAt[o.phase] = append(d.deletedAt[o.phase], o.index)
		deletes = append(deletes, Change{Type: TypeRowDelete, Payload: RowDelete{
			RowID:       o.ref.ID,
			PhaseNumber: o.phase,
			SourceIndex: o.index,
			Row:         o.row,
		}})
	}

	// Everything left is new.
	for ni, n := range d.new {
		if d.newConsumed[ni] {
			continue
		}
		add := RowAdd{PhaseNumber: n.phase, TargetIndex: n.index, Row: n.row}
		if n.ref.IsEphemeral() {
			add.TempID = n.ref.ID
		}
		add.Row.ID = 0
		adds = append(adds, Change{Type: TypeRowAdd, Payload: add})
	}

	kept := d.suppressCascades()

	for _, num := range d.newPhase {
		if !d.oldSeen[num] {
			phaseAdds = append(phaseAdds, Change{Type: TypePhaseAdd, Payload: PhaseAdd{PhaseNumber: num, IsActive: d.newActive[num]}})
		}
	}
	for _, num := range d.oldPhase {
		if !d.newSeen[num] {
			phaseDels = append(phaseDels, Change{Type: TypePhaseDelete, Payload: PhaseDelete{PhaseNumber: num, Rows: deletedByPhase[num]}})
		}
	}

	var out []Change
	out = append(out, phaseAdds...)
	out = append(out, explicit...)
	for ni := range d.new {
		m, ok := d.results[ni]
		if !ok {
			continue
		}
		if m.update != nil {
			out = append(out, Change{Type: TypeRowUpdate, Payload: *m.update})
		}
		if m.move != nil && (!m.cand || kept[ni]) {
			out = append(out, Change{Type: TypeRowMove, Payload: *m.move})
		}
	}
	out = append(out, dups...)
	out = append(out, adds...)
	out = append(out, deletes...)
	out = append(out, phaseDels...)
	return out
}

// findNew returns the first unconsumed new slot whose ref is id of the
// given kind.
func (d *rowDiff) findNew(id int64, kind snapshot.RefKind) (int, bool) {
	if id <= 0 {
		return 0, false
	}
	for ni, n := range d.new {
		if !d.newConsumed[ni] && n.ref.Kind == kind && n.ref.ID == id {
			return ni, true
		}
	}
	return 0, false
}

// untrusted reports whether a new row's id cannot identify a stored row:
// client tokens, and durable ids whose row was already claimed.
func (d *rowDiff) untrusted(n slot) bool {
	if n.ref.IsEphemeral() {
		return true
	}
	if n.ref.IsDurable() {
		oi, ok := d.oldByID[n.ref.ID]
		return ok && d.oldMatched[oi]
	}
	return false
}

// duplicateSource picks the old row a copy was made from: a still-present
// row in the target phase, then one elsewhere, then a removed one.
func (d *rowDiff) duplicateSource(n slot) (int, bool) {
	best, bestRank := -1, 3
	for _, oi := range d.oldBySig[n.row.Signature()] {
		if !d.old[oi].ref.IsDurable() {
			continue
		}
		rank := 2
		if d.oldMatched[oi] {
			rank = 1
			if d.old[oi].phase == n.phase {
				rank = 0
			}
		}
		if rank < bestRank {
			best, bestRank = oi, rank
		}
	}
	return best, best >= 0
}

func (d *rowDiff) match(oi, ni int) {
	d.oldMatched[oi] = true
	d.newConsumed[ni] = true
	o, n := d.old[oi], d.new[ni]

	m := &matched{}
	if u, changed := rowUpdate(o, n); changed {
		m.update = &u
	}
	mv := &RowMove{RowID: o.ref.ID, SourcePhase: o.phase, TargetPhase: n.phase, SourceIndex: o.index, TargetIndex: n.index}
	switch {
	case o.phase != n.phase:
		m.move = mv
	case o.index != n.index:
		m.move = mv
		m.cand = true
		d.candidates[n.phase] = append(d.candidates[n.phase], candidate{newIdx: ni, src: o.index, dst: n.index})
	}
	if o.phase == n.phase {
		d.pairs[n.phase] = append(d.pairs[n.phase], [2]int{ni, oi})
	}
	d.results[ni] = m
}

func rowUpdate(o, n slot) (RowUpdate, bool) {
	u := RowUpdate{RowID: o.ref.ID, PhaseNumber: n.phase, OldFields: map[string]string{}, NewFields: map[string]string{}}
	for _, f := range snapshot.ContentFields {
		ov, nv := o.row.Field(f), n.row.Field(f)
		if ov != nv {
			u.OldFields[f] = ov
			u.NewFields[f] = nv
		}
	}
	return u, len(u.NewFields) > 0
}

// suppressCascades decides which same-phase move candidates are real moves
// and which are index shifts caused by other rows coming or going.
func (d *rowDiff) suppressCascades() map[int]bool {
	kept := map[int]bool{}
	phases := make([]int, 0, len(d.candidates))
	for p := range d.candidates {
		phases = append(phases, p)
	}
	sort.Ints(phases)

	for _, p := range phases {
		cs := d.candidates[p]
		reordered := d.reordered(p)

		if len(cs) >= 2 && unitShift(cs) && d.deleteAdjacent(p, cs) {
			continue
		}
		if len(cs) >= 2 {
			if c, ok := largestDisplacement(cs); ok && reordered[c.newIdx] {
				kept[c.newIdx] = true
				continue
			}
		}
		for _, c := range cs {
			if reordered[c.newIdx] {
				kept[c.newIdx] = true
			}
		}
	}
	return kept
}

// unitShift reports whether every candidate moved by exactly one slot in
// the same direction.
func unitShift(cs []candidate) bool {
	first := cs[0].delta()
	if first != 1 && first != -1 {
		return false
	}
	for _, c := range cs[1:] {
		if c.delta() != first {
			return false
		}
	}
	return true
}

// deleteAdjacent reports whether a row deleted from phase p sat right next
// to the span of old indices the candidates came from.
func (d *rowDiff) deleteAdjacent(p int, cs []candidate) bool {
	lo, hi := cs[0].src, cs[0].src
	for _, c := range cs[1:] {
		lo = min(lo, c.src)
		hi = max(hi, c.src)
	}
	for _, idx := range d.deletedAt[p] {
		if idx == lo-1 || idx == hi+1 {
			return true
		}
	}
	return false
}

// largestDisplacement returns the single candidate whose displacement is
// strictly larger than every other's.
func largestDisplacement(cs []candidate) (candidate, bool) {
	abs := func(v int) int {
		if v < 0 {
			return -v
		}
		return v
	}
	best, second := -1, -1
	for i, c := range cs {
		v := abs(c.delta())
		switch {
		case best < 0 || v > abs(cs[best].delta()):
			second = best
			best = i
		case second < 0 || v > abs(cs[second].delta()):
			second = i
		}
	}
	if best < 0 || (second >= 0 && abs(cs[second].delta()) == abs(cs[best].delta())) {
		return candidate{}, false
	}
	return cs[best], true
}

// reordered returns the new slots of phase p whose order relative to the
// other rows present in p on both sides changed. Rows on a longest
// increasing subsequence of old positions stay put. Ties go to rows that
// did not move by raw index, then to rows with the smaller displacement,
// so a row dragged past its neighbours is the one reported as moved.
func (d *rowDiff) reordered(p int) map[int]bool {
	pairs := append([][2]int(nil), d.pairs[p]...)
	sort.Slice(pairs, func(i, j int) bool { return pairs[i][0] < pairs[j][0] })

	byOld := append([][2]int(nil), pairs...)
	sort.Slice(byOld, func(i, j int) bool { return d.old[byOld[i][1]].index < d.old[byOld[j][1]].index })
	rank := make(map[int]int, len(byOld))
	for i, pr := range byOld {
		rank[pr[1]] = i
	}

	shift := map[int]int{}
	widest := 0
	for _, c := range d.candidates[p] {
		v := max(c.delta(), -c.delta())
		shift[c.newIdx] = v
		widest = max(widest, v)
	}

	// An unmoved row outweighs any number of candidates; among candidates
	// the smaller displacement weighs more.
	n := len(pairs)
	unmoved := (widest + 1) * (n + 1)
	seq := make([]int, n)
	stable := make([]int, n)
	for i, pr := range pairs {
		seq[i] = rank[pr[1]]
		if v, ok := shift[pr[0]]; ok {
			stable[i] = widest + 1 - v
		} else {
			stable[i] = unmoved
		}
	}

	length := make([]int, n)
	weight := make([]int, n)
	prev := make([]int, n)
	end := -1
	for i := 0; i < n; i++ {
		length[i], weight[i], prev[i] = 1, stable[i], -1
		for j := 0; j < i; j++ {
			if seq[j] >= seq[i] {
				continue
			}
			l, w := length[j]+1, weight[j]+stable[i]
			if l > length[i] || (l == length[i] && w > weight[i]) {
				length[i], weight[i], prev[i] = l, w, j
			}
		}
		if end < 0 || length[i] > length[end] || (length[i] == length[end] && weight[i] > weight[end]) {
			end = i
		}
	}

	inPlace := make([]bool, n)
	for i := end; i >= 0; i = prev[i] {
		inPlace[i] = true
	}
	out := map[int]bool{}
	for i, pr := range pairs {
		if !inPlace[i] {
			out[pr[0]] = true
		}
	}
	return out
}

func diffRoles(old, proposed []string) []Change {
	oldSet := make(map[string]bool, len(old))
	for _, r := range old {
		oldSet[r] = true
	}
	newSet := map[string]bool{}
	var out []Change
	for _, r := range proposed {
		r = strings.TrimSpace(r)
		if r == "" || newSet[r] {
			continue
		}
		newSet[r] = true
		if !oldSet[r] {
			out = append(out, Change{Type: TypeRoleAdd, Payload: Role{Role: r}})
		}
	}
	for _, r := range old {
		if !newSet[r] {
			out = append(out, Change{Type: TypeRoleDelete, Payload: Role{Role: r}})
		}
	}
	return out
}

func diffScripts(old, proposed []snapshot.Script) []Change {
	oldByID := make(map[int64]snapshot.Script, len(old))
	for _, s := range old {
		oldByID[s.ID] = s
	}
	seen := map[int64]bool{}
	var out []Change
	for _, s := range proposed {
		o, ok := oldByID[s.ID]
		if s.ID <= 0 || !ok || seen[s.ID] {
			s.ID = 0
			out = append(out, Change{Type: TypeScriptAdd, Payload: ScriptAdd{Script: s}})
			continue
		}
		seen[s.ID] = true
		u := ScriptUpdate{ScriptID: s.ID, OldFields: map[string]string{}, NewFields: map[string]string{}}
		if o.Name != s.Name {
			u.OldFields["name"], u.NewFields["name"] = o.Name, s.Name
		}
		if o.Path != s.Path {
			u.OldFields["path"], u.NewFields["path"] = o.Path, s.Path
		}
		if len(u.NewFields) > 0 {
			out = append(out, Change{Type: TypeScriptUpdate, Payload: u})
		}
	}
	for _, s := range old {
		if !seen[s.ID] {
			out = append(out, Change{Type: TypeScriptDelete, Payload: ScriptDelete{ScriptID: s.ID, Script: s}})
		}
	}
	return out
}
