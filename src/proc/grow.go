package proc

/// Grow extends or shrinks cur's virtual-memory extent by n bytes:
/// positive n grows via the VM allocator, negative n deallocates. On
/// success it updates cur.Size and returns the old size; on failure it
/// returns -1 and leaves Size unchanged.
func Grow(cur *Task_t, n int) int {
	oldsz := cur.Size
	if n >= 0 {
		newsz, err := cur.AS.Grow(oldsz, oldsz+uintptr(n))
		if err != 0 {
			return -1
		}
		cur.Size = newsz
		return int(oldsz)
	}
	shrink := uintptr(-n)
	if shrink > oldsz {
		return -1
	}
	newsz := cur.AS.Dealloc(oldsz, oldsz-shrink)
	cur.Size = newsz
	return int(oldsz)
}
