package roster

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2026, time.March, 14, 9, 30, 0, 0, time.UTC)

func TestParseStatus(t *testing.T) {
	t.Run("accepts every known status", func(t *testing.T) {
		for _, s := range AllStatuses() {
			got, err := ParseStatus(string(s))
			require.NoError(t, err)
			assert.Equal(t, s, got)
		}
	})

	t.Run("normalizes moved_out", func(t *testing.T) {
		got, err := ParseStatus("moved_out")
		require.NoError(t, err)
		assert.Equal(t, StatusCheckedOut, got)
	})

	t.Run("rejects unknown", func(t *testing.T) {
		_, err := ParseStatus("dirty")
		assert.ErrorIs(t, err, ErrUnknownStatus)
	})
}

func TestStatusPriority(t *testing.T) {
	assert.Greater(t, StatusCleaned.Priority(), StatusCleanedStay.Priority())
	assert.Greater(t, StatusCleanedStay.Priority(), StatusClosed.Priority())
	assert.Greater(t, StatusCheckedOut.Priority(), StatusWillDepartToday.Priority())
	assert.Greater(t, StatusLongStay.Priority(), StatusVacant.Priority())
	assert.Zero(t, Status("bogus").Priority())
}

func TestDecodeDocument(t *testing.T) {
	t.Run("normalizes moved_out on decode", func(t *testing.T) {
		doc, err := DecodeDocument([]byte(`{"rooms":{"101":{"status":"moved_out"}}}`))
		require.NoError(t, err)
		assert.Equal(t, StatusCheckedOut, doc.Rooms["101"].Status)
		assert.Equal(t, "101", doc.Rooms["101"].Number)
	})

	t.Run("missing rooms is malformed", func(t *testing.T) {
		_, err := DecodeDocument([]byte(`{"departureRooms":[]}`))
		assert.ErrorIs(t, err, ErrMalformed)
	})

	t.Run("invalid json is malformed", func(t *testing.T) {
		_, err := DecodeDocument([]byte(`{"rooms":`))
		assert.ErrorIs(t, err, ErrMalformed)
	})

	t.Run("skips undecodable rooms", func(t *testing.T) {
		doc, err := DecodeDocument([]byte(`{"rooms":{"101":{"status":7},"102":{"status":"cleaned"}}}`))
		require.NoError(t, err)
		assert.Equal(t, []string{"101"}, doc.Skipped)
		assert.Equal(t, StatusCleaned, doc.Rooms["102"].Status)
	})

	t.Run("round trips through encode", func(t *testing.T) {
		r := DefaultDefinition().Seed(testNow)
		data, err := r.Document().Encode()
		require.NoError(t, err)

		doc, err := DecodeDocument(data)
		require.NoError(t, err)
		assert.Len(t, doc.Rooms, r.Len())
		assert.Equal(t, StatusLongStay, doc.Rooms["207"].Status)
	})
}

func TestDefaultDefinition(t *testing.T) {
	def := DefaultDefinition()
	r := def.Seed(testNow)

	assert.Equal(t, 85, r.Len())
	assert.Equal(t, []int{6, 5, 4, 3, 2, 1}, def.FloorLevels())
	assert.Equal(t, "601", r.Rooms[0].Number)

	for _, number := range []string{"206", "207", "503", "608", "609"} {
		assert.True(t, def.IsProtected(number), number)
		room, ok := r.Room(number)
		require.True(t, ok)
		assert.Equal(t, StatusLongStay, room.Status)
		assert.Nil(t, room.VacantSince)
	}

	room, ok := r.Room("101")
	require.True(t, ok)
	assert.Equal(t, StatusVacant, room.Status)
	require.NotNil(t, room.VacantSince)
	assert.True(t, room.VacantSince.Equal(testNow))
	assert.True(t, Category("S").IsSuite())
	assert.False(t, room.Category.IsSuite())
}

func TestParseDefinition_Invalid(t *testing.T) {
	tests := []struct {
		name string
		toml string
	}{
		{"no floors", `protected = []`},
		{"room on wrong floor", "[[floor]]\nlevel = 2\nrooms = [\"301:D5\"]"},
		{"missing category", "[[floor]]\nlevel = 1\nrooms = [\"101\"]"},
		{"duplicate room", "[[floor]]\nlevel = 1\nrooms = [\"101:D5\", \"101:D5\"]"},
		{"unknown protected room", "protected = [\"999\"]\n[[floor]]\nlevel = 1\nrooms = [\"101:D5\"]"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseDefinition([]byte(tt.toml))
			assert.ErrorIs(t, err, ErrInvalidDefinition)
		})
	}
}

func TestDefinitionReset(t *testing.T) {
	def := DefaultDefinition()
	r := def.Seed(testNow)

	busy := r.Lookup("602")
	busy.SetStatus(StatusCleaned, testNow)
	busy.Assignee = "Nok"
	busy.CleanedBy = "Nok"
	busy.CleanedToday = true
	busy.FlagColor = FlagRed
	busy.Remark = "lamp broken (reported by Nok 14 March)"
	r.Lookup("207").Assignee = "Pim"

	later := testNow.Add(3 * time.Hour)
	once := def.Reset(r, later)
	twice := def.Reset(once, later.Add(time.Hour))

	room, _ := once.Room("602")
	assert.Equal(t, StatusVacant, room.Status)
	assert.Empty(t, room.Assignee)
	assert.Empty(t, room.CleanedBy)
	assert.False(t, room.CleanedToday)
	assert.Equal(t, FlagBlack, room.FlagColor)
	assert.Equal(t, "lamp broken (reported by Nok 14 March)", room.Remark)

	protected, _ := once.Room("207")
	assert.Equal(t, StatusLongStay, protected.Status)
	assert.Empty(t, protected.Assignee)

	assert.Equal(t, once.Rooms, twice.Rooms, "reset must be idempotent")
}

func TestStampRemark(t *testing.T) {
	at := time.Date(2026, time.October, 3, 8, 0, 0, 0, time.UTC)

	assert.Equal(t, "towel missing (reported by Nok 3 October)", StampRemark("towel missing", "Nok", at))
	assert.Equal(t, "towel missing (reported by Pim 3 October)",
		StampRemark("towel missing (reported by Nok 1 October)", "Pim", at))
	assert.Empty(t, StampRemark("   ", "Nok", at))
	assert.Empty(t, StampRemark("(reported by Nok 1 October)", "Nok", at))
}

func TestDiff(t *testing.T) {
	before := Room{Number: "101", Status: StatusVacant, VacantSince: &testNow, ClaimedBy: "Pim"}
	after := before
	after.SetStatus(StatusCleaned, testNow)
	after.Assignee = "Nok"
	after.ClaimedBy = ""

	patch := Diff(&before, &after)
	assert.Equal(t, StatusCleaned, patch[FieldStatus])
	assert.Equal(t, "Nok", patch[FieldAssignee])
	assert.Contains(t, patch, FieldClaimedBy)
	assert.Nil(t, patch[FieldClaimedBy])
	assert.Contains(t, patch, FieldVacantSince)
	assert.Nil(t, patch[FieldVacantSince])
	assert.NotContains(t, patch, FieldRemark)

	data, err := RoomPatch("101", patch)
	require.NoError(t, err)
	var decoded map[string]map[string]map[string]any
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, "cleaned", decoded["rooms"]["101"]["status"])
}

func TestStatusGroupFields(t *testing.T) {
	assert.ElementsMatch(t,
		[]string{FieldStatus, FieldAssignee, FieldCleanedToday, FieldCleanedBy, FieldVacantSince},
		StatusGroupFields())
}

func TestRoomHelpers(t *testing.T) {
	suite := Room{Category: "S", Status: StatusCleanedStay, Assignee: "Nok"}
	assert.Equal(t, 2, suite.Points())

	unassigned := Room{Category: "D5", Status: StatusCleaned}
	assert.Zero(t, unassigned.Points())

	since := testNow.Add(-50 * time.Hour)
	vacant := Room{Status: StatusVacant, VacantSince: &since}
	assert.Equal(t, 2, vacant.VacantDays(testNow))

	vacant.SetStatus(StatusVacant, testNow)
	assert.True(t, vacant.VacantSince.Equal(since), "staying vacant keeps the original time")
	vacant.SetStatus(StatusClosed, testNow)
	assert.Nil(t, vacant.VacantSince)
}

func TestAreas(t *testing.T) {
	areas := DefaultDefinition().Areas()
	assert.Len(t, areas, (5+6)*2)
	assert.Equal(t, "lobby-morning", areas[0].ID)
	assert.Equal(t, "hall-6-afternoon", areas[11].ID)

	a, err := DecodeArea([]byte(`{"id":"lift-morning","status":"done","assignee":"Nok"}`))
	require.NoError(t, err)
	assert.Equal(t, AreaDone, a.Status)

	_, err = DecodeArea([]byte(`{"status":"cleaned"}`))
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestNewIdentity(t *testing.T) {
	id, err := NewIdentity("  Nok ", "")
	require.NoError(t, err)
	assert.Equal(t, Identity{Name: "Nok", Role: RoleHousekeeping}, id)
	assert.False(t, id.Privileged())

	fo, err := NewIdentity("Desk", RoleFrontDesk)
	require.NoError(t, err)
	assert.True(t, fo.Privileged())

	_, err = NewIdentity(" ", RoleHousekeeping)
	assert.ErrorIs(t, err, ErrInvalidIdentity)
	_, err = NewIdentity("Nok", "manager")
	assert.ErrorIs(t, err, ErrInvalidIdentity)
}
