package record

import "sync"

// userLocks はユーザー名ごとの排他ロック。
// 同一ユーザーの打刻と修正を直列化し、異なるユーザーは並行に処理できる。
// 参照カウントが0になったエントリは削除するため、ユーザー数に比例してメモリが増え続けることはない。
type userLocks struct {
	mu    sync.Mutex
	locks map[string]*userLock
}

type userLock struct {
	mu   sync.Mutex
	refs int
}

func newUserLocks() *userLocks {
	return &userLocks{locks: make(map[string]*userLock)}
}

// Lock は指定ユーザーのロックを取得し、解放関数を返す。
func (l *userLocks) Lock(username string) (unlock func()) {
	l.mu.Lock()
	ul, ok := l.locks[username]
	if !ok {
		ul = &userLock{}
		l.locks[username] = ul
	}
	ul.refs++
	l.mu.Unlock()

	ul.mu.Lock()

	return func() {
		ul.mu.Unlock()

		l.mu.Lock()
		ul.refs--
		if ul.refs == 0 {
			delete(l.locks, username)
		}
		l.mu.Unlock()
	}
}

// size は保持しているロック数を返す。テスト用。
func (l *userLocks) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
